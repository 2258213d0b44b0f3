package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/record"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"threshold above one", func(c *Config) { c.Similarity.Threshold = 1.2 }, "similarity.threshold"},
		{"threshold below zero", func(c *Config) { c.Similarity.Threshold = -0.1 }, "similarity.threshold"},
		{"no key fields", func(c *Config) { c.Dedupe.KeyFields = nil }, "dedupe.key_fields"},
		{"duplicate key field", func(c *Config) { c.Dedupe.KeyFields = []string{"a", "a"} }, "dedupe.key_fields"},
		{"bad group kind", func(c *Config) { c.Similarity.Groups[0].Kind = "image" }, "similarity.groups[0].kind"},
		{"zero weight", func(c *Config) { c.Similarity.Groups[0].Weight = 0 }, "similarity.groups[0].weight"},
		{"no group columns", func(c *Config) { c.Similarity.Groups[0].Columns = nil }, "similarity.groups[0].columns"},
		{"enabled without groups", func(c *Config) { c.Similarity.Groups = nil }, "similarity.groups"},
		{"negative workers", func(c *Config) { c.Similarity.Workers = -1 }, "similarity.workers"},
		{"unknown type", func(c *Config) { c.Schema.Types["price"] = "money" }, "schema.types.price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			var cfgErr *etlerr.ConfigurationError
			require.True(t, errors.As(cfg.Validate(), &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestThresholdBoundsAreInclusive(t *testing.T) {
	for _, th := range []float64{0, 1} {
		cfg := Default()
		cfg.Similarity.Threshold = th
		assert.NoError(t, cfg.Validate())
	}
}

func TestCheckSchema(t *testing.T) {
	schema := record.MustSchema(
		record.Field{Name: "id", Type: record.TypeString},
		record.Field{Name: "address", Type: record.TypeAddress},
		record.Field{Name: "price", Type: record.TypeNumber},
	)

	base := func() *Config {
		cfg := Default()
		cfg.Schema.Types = map[string]string{"address": "address"}
		cfg.Dedupe.KeyFields = []string{"address"}
		cfg.Similarity.Groups = []GroupConfig{{Name: "address", Kind: KindAddress, Columns: []string{"address"}, Weight: 1}}
		cfg.Similarity.GuardFields = nil
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().CheckSchema(schema, "in.csv"))
	})

	t.Run("missing required is a schema mismatch", func(t *testing.T) {
		cfg := base()
		cfg.Schema.Required = []string{"id", "description"}

		var mismatch *etlerr.SchemaMismatchError
		require.True(t, errors.As(cfg.CheckSchema(schema, "in.csv"), &mismatch))
		assert.Equal(t, []string{"description"}, mismatch.Missing)
	})

	refs := map[string]func(*Config){
		"dedupe.key_fields":            func(c *Config) { c.Dedupe.KeyFields = []string{"street"} },
		"similarity.groups[0].columns": func(c *Config) { c.Similarity.Groups[0].Columns = []string{"description"} },
		"similarity.guard_fields":      func(c *Config) { c.Similarity.GuardFields = []string{"floor"} },
		"similarity.blocking_field":    func(c *Config) { c.Similarity.BlockingField = "zip" },
		"resolve.timestamp_field":      func(c *Config) { c.Resolve.TimestampField = "seenAt" },
		"id_field":                     func(c *Config) { c.IDField = "listingId" },
		"schema.types":                 func(c *Config) { c.Schema.Types["rooms"] = "number" },
	}
	for field, mutate := range refs {
		t.Run("dangling "+field, func(t *testing.T) {
			cfg := base()
			mutate(cfg)

			var cfgErr *etlerr.ConfigurationError
			require.True(t, errors.As(cfg.CheckSchema(schema, "in.csv"), &cfgErr))
			assert.Equal(t, field, cfgErr.Field)
		})
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id_field: id
dedupe:
  key_fields: [address]
similarity:
  threshold: 0.9
  groups:
    - name: description
      kind: text
      columns: [description]
      weight: 2
`), 0o644))

	t.Setenv("AIRFLOW_OUTPUT_PATH", "/tmp/out.parquet")
	t.Setenv("LISTING_ETL_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "id", cfg.IDField)
	assert.Equal(t, []string{"address"}, cfg.Dedupe.KeyFields)
	assert.Equal(t, 0.9, cfg.Similarity.Threshold)
	require.Len(t, cfg.Similarity.Groups, 1)
	assert.Equal(t, KindText, cfg.Similarity.Groups[0].Kind)
	assert.Equal(t, "/tmp/out.parquet", cfg.OutputPath)
	assert.Equal(t, DefaultInputPath, cfg.InputPath)
	assert.Equal(t, 8, cfg.Similarity.Workers)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("similarity:\n  treshold: 0.5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestTimestampFieldMustBeOrdered(t *testing.T) {
	schema := record.MustSchema(
		record.Field{Name: "street", Type: record.TypeAddress},
		record.Field{Name: "seenAt", Type: record.TypeDate},
		record.Field{Name: "version", Type: record.TypeNumber},
		record.Field{Name: "note", Type: record.TypeString},
	)
	cfg := Default()
	cfg.Dedupe.KeyFields = []string{"street"}
	cfg.Similarity.Groups = []GroupConfig{{Name: "address", Kind: KindAddress, Columns: []string{"street"}, Weight: 1}}
	cfg.Similarity.GuardFields = nil

	for _, name := range []string{"seenAt", "version"} {
		cfg.Resolve.TimestampField = name
		assert.NoError(t, cfg.CheckSchema(schema, "in.csv"), name)
	}

	for _, name := range []string{"street", "note"} {
		cfg.Resolve.TimestampField = name
		var cfgErr *etlerr.ConfigurationError
		require.ErrorAs(t, cfg.CheckSchema(schema, "in.csv"), &cfgErr, name)
		assert.Equal(t, "resolve.timestamp_field", cfgErr.Field)
	}
}

func TestCheckServer(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.NoError(t, cfg.CheckServer())

	for _, host := range []string{"localhost", "::1"} {
		cfg.Server.Host = host
		assert.NoError(t, cfg.CheckServer(), host)
	}

	for _, host := range []string{"0.0.0.0", "", "10.1.2.3", "etl.internal"} {
		cfg.Server.Host = host
		var cfgErr *etlerr.ConfigurationError
		require.ErrorAs(t, cfg.CheckServer(), &cfgErr, host)
		assert.Equal(t, "server.api_key", cfgErr.Field)
	}

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.APIKey = "secret"
	assert.NoError(t, cfg.CheckServer())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.CheckServer())
}

func TestDataDirFromEnv(t *testing.T) {
	t.Setenv("LISTING_ETL_DATA_DIR", "/srv/listings")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/listings", cfg.Server.DataDir)
}
