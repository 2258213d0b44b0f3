// Package dataset reads and writes listing datasets. The format follows the
// file extension: Parquet for .parquet/.pq, CSV for .csv. Every write goes
// to a temporary file in the destination directory and is renamed into
// place only once it is complete.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/record"
)

// Format reads and encodes one file format.
type Format interface {
	Name() string
	Read(path string) (*record.Dataset, error)
	Encode(w io.Writer, ds *record.Dataset) error
}

// ForPath picks the format from the file extension.
func ForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return Parquet{}, nil
	case ".csv":
		return CSV{}, nil
	}
	return nil, fmt.Errorf("unsupported dataset extension %q", filepath.Ext(path))
}

// Read loads the dataset at path. Failures are *etlerr.IOError.
func Read(path string) (*record.Dataset, error) {
	format, err := ForPath(path)
	if err != nil {
		return nil, &etlerr.IOError{Op: "read", Path: path, Err: err}
	}
	ds, err := format.Read(path)
	if err != nil {
		return nil, &etlerr.IOError{Op: "read", Path: path, Err: err}
	}
	return ds, nil
}

// Write stores ds at path atomically. Failures are *etlerr.IOError.
func Write(path string, ds *record.Dataset) error {
	format, err := ForPath(path)
	if err != nil {
		return &etlerr.IOError{Op: "write", Path: path, Err: err}
	}
	return AtomicWrite(path, func(w io.Writer) error {
		return format.Encode(w, ds)
	})
}

// WriteJSON stores v as indented JSON at path atomically.
func WriteJSON(path string, v any) error {
	return AtomicWrite(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// AtomicWrite runs encode against a temporary file next to path, syncs it
// and renames it over path. On any failure the temporary file is removed
// and path is left untouched.
func AtomicWrite(path string, encode func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &etlerr.IOError{Op: "write", Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			err = &etlerr.IOError{Op: "write", Path: path, Err: err}
		}
	}()

	if err = encode(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
