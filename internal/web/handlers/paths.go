package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errPathsDisabled = errors.New("request paths are disabled; configure server.data_dir")

// resolveDataPath resolves a request path against root and refuses anything
// that lands outside it, following symlinks. Relative paths are taken from
// root. The file itself need not exist, but its directory must.
func resolveDataPath(root, p string) (string, error) {
	if root == "" {
		return "", errPathsDisabled
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", fmt.Errorf("data dir: %w", err)
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	resolved, err := filepath.EvalSymlinks(p)
	if errors.Is(err, os.ErrNotExist) {
		var dir string
		dir, err = filepath.EvalSymlinks(filepath.Dir(p))
		resolved = filepath.Join(dir, filepath.Base(p))
	}
	if err != nil {
		return "", fmt.Errorf("path %s is not usable", p)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", fmt.Errorf("path %s is outside the data directory", p)
	}
	return resolved, nil
}
