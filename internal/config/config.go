package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/record"
)

// Default paths match the Airflow deployment the transform runs in.
const (
	DefaultInputPath  = "/opt/airflow/data/listing_raw_technical_test.parquet"
	DefaultOutputPath = "/opt/airflow/data/processed.parquet"
)

// Group kinds for similarity comparison.
const (
	KindAddress = "address"
	KindText    = "text"
)

// Config is the full configuration surface of the transform.
type Config struct {
	InputPath   string `yaml:"input_path"`
	OutputPath  string `yaml:"output_path"`
	RejectsPath string `yaml:"rejects_path"`
	ReportPath  string `yaml:"report_path"`

	// IDField names the listing identifier used in the dedup report.
	IDField string `yaml:"id_field"`

	Schema     SchemaConfig     `yaml:"schema"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Resolve    ResolveConfig    `yaml:"resolve"`
	Output     OutputConfig     `yaml:"output"`
	Log        LogConfig        `yaml:"log"`
	Audit      AuditConfig      `yaml:"audit"`
	Server     ServerConfig     `yaml:"server"`
}

// SchemaConfig declares column types and required columns.
type SchemaConfig struct {
	Types       map[string]string `yaml:"types"`
	Required    []string          `yaml:"required"`
	DateLayouts []string          `yaml:"date_layouts"`
	InferSample int               `yaml:"infer_sample"`
}

// DedupeConfig drives the exact-duplicate stage.
type DedupeConfig struct {
	KeyFields []string `yaml:"key_fields"`
}

// GroupConfig is one comparison group for near-duplicate scoring.
type GroupConfig struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Columns []string `yaml:"columns"`
	Weight  float64  `yaml:"weight"`
}

// SimilarityConfig drives the near-duplicate stage.
type SimilarityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Threshold     float64       `yaml:"threshold"`
	Groups        []GroupConfig `yaml:"groups"`
	GuardFields   []string      `yaml:"guard_fields"`
	BlockingField string        `yaml:"blocking_field"`
	Workers       int           `yaml:"workers"`
}

// ResolveConfig drives survivor selection.
type ResolveConfig struct {
	TimestampField string `yaml:"timestamp_field"`
}

// OutputConfig controls the written dataset shape.
type OutputConfig struct {
	DropEmptyColumns bool `yaml:"drop_empty_columns"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig enables the Postgres run audit.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// ServerConfig is the HTTP trigger listener. An empty APIKey leaves the
// API open, which CheckServer only allows on a loopback host. Paths in a
// run request must resolve inside DataDir; with no DataDir, requests can
// only run the configured paths.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key"`
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when nothing is overridden. Key
// columns follow the address columns of the listings dataset.
func Default() *Config {
	return &Config{
		InputPath:  DefaultInputPath,
		OutputPath: DefaultOutputPath,
		Schema: SchemaConfig{
			Types: map[string]string{
				"street": string(record.TypeAddress),
			},
			InferSample: 100,
		},
		Dedupe: DedupeConfig{
			KeyFields: []string{"street", "houseNumber", "postalCode", "city", "estateType", "floorNumber"},
		},
		Similarity: SimilarityConfig{
			Enabled:   true,
			Threshold: 0.85,
			Groups: []GroupConfig{
				{Name: "address", Kind: KindAddress, Columns: []string{"street", "houseNumber", "postalCode", "city"}, Weight: 1},
			},
			GuardFields: []string{"houseNumber", "floorNumber"},
			Workers:     4,
		},
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{Host: "127.0.0.1", Port: 8088},
	}
}

// Load reads .env, then the optional YAML file over Default(), then
// environment overrides.
func Load(path string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.InputPath = GetEnvFirst(c.InputPath, "LISTING_ETL_INPUT_PATH", "AIRFLOW_INPUT_PATH")
	c.OutputPath = GetEnvFirst(c.OutputPath, "LISTING_ETL_OUTPUT_PATH", "AIRFLOW_OUTPUT_PATH")
	c.RejectsPath = GetEnv("LISTING_ETL_REJECTS_PATH", c.RejectsPath)
	c.ReportPath = GetEnv("LISTING_ETL_REPORT_PATH", c.ReportPath)
	c.Similarity.Threshold = GetEnvFloat("LISTING_ETL_THRESHOLD", c.Similarity.Threshold)
	c.Similarity.Workers = GetEnvInt("LISTING_ETL_WORKERS", c.Similarity.Workers)
	c.Log.Level = GetEnv("LISTING_ETL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv("LISTING_ETL_LOG_FORMAT", c.Log.Format)
	c.Audit.Enabled = GetEnvBool("LISTING_ETL_AUDIT", c.Audit.Enabled)
	c.Audit.DSN = GetEnv("LISTING_ETL_AUDIT_DSN", c.Audit.DSN)
	c.Server.Host = GetEnv("LISTING_ETL_HOST", c.Server.Host)
	c.Server.Port = GetEnvInt("LISTING_ETL_PORT", c.Server.Port)
	c.Server.APIKey = GetEnv("LISTING_ETL_API_KEY", c.Server.APIKey)
	c.Server.DataDir = GetEnv("LISTING_ETL_DATA_DIR", c.Server.DataDir)
}

// CheckServer validates the listener settings. Binding beyond loopback
// requires an API key.
func (c *Config) CheckServer() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &etlerr.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("%d is not a valid port", c.Server.Port)}
	}
	if c.Server.APIKey == "" && !isLoopback(c.Server.Host) {
		return &etlerr.ConfigurationError{
			Field:  "server.api_key",
			Reason: fmt.Sprintf("required when listening on %q; set it or bind to 127.0.0.1", c.Server.Host),
		}
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate checks everything that does not depend on the input schema.
func (c *Config) Validate() error {
	s := c.Similarity
	if math.IsNaN(s.Threshold) || s.Threshold < 0 || s.Threshold > 1 {
		return &etlerr.ConfigurationError{Field: "similarity.threshold", Reason: fmt.Sprintf("%v is outside [0,1]", s.Threshold)}
	}
	if s.Workers < 0 {
		return &etlerr.ConfigurationError{Field: "similarity.workers", Reason: "must not be negative"}
	}
	if len(c.Dedupe.KeyFields) == 0 {
		return &etlerr.ConfigurationError{Field: "dedupe.key_fields", Reason: "at least one key field is required"}
	}
	if dup := firstDuplicate(c.Dedupe.KeyFields); dup != "" {
		return &etlerr.ConfigurationError{Field: "dedupe.key_fields", Reason: fmt.Sprintf("%q listed twice", dup)}
	}
	if s.Enabled && len(s.Groups) == 0 {
		return &etlerr.ConfigurationError{Field: "similarity.groups", Reason: "near-duplicate detection is enabled without comparison groups"}
	}

	names := make(map[string]bool, len(s.Groups))
	for i, g := range s.Groups {
		field := fmt.Sprintf("similarity.groups[%d]", i)
		if g.Name == "" {
			return &etlerr.ConfigurationError{Field: field, Reason: "name is required"}
		}
		if names[g.Name] {
			return &etlerr.ConfigurationError{Field: field, Reason: fmt.Sprintf("group %q defined twice", g.Name)}
		}
		names[g.Name] = true
		if g.Kind != KindAddress && g.Kind != KindText {
			return &etlerr.ConfigurationError{Field: field + ".kind", Reason: fmt.Sprintf("%q is not %q or %q", g.Kind, KindAddress, KindText)}
		}
		if len(g.Columns) == 0 {
			return &etlerr.ConfigurationError{Field: field + ".columns", Reason: "at least one column is required"}
		}
		if !(g.Weight > 0) || math.IsInf(g.Weight, 0) {
			return &etlerr.ConfigurationError{Field: field + ".weight", Reason: fmt.Sprintf("%v must be a positive finite number", g.Weight)}
		}
	}

	if _, err := c.SemanticTypes(); err != nil {
		return err
	}
	return nil
}

// SemanticTypes parses the declared column types.
func (c *Config) SemanticTypes() (map[string]record.SemanticType, error) {
	out := make(map[string]record.SemanticType, len(c.Schema.Types))
	for name, raw := range c.Schema.Types {
		t, err := record.ParseSemanticType(raw)
		if err != nil {
			return nil, &etlerr.ConfigurationError{Field: "schema.types." + name, Reason: err.Error()}
		}
		out[name] = t
	}
	return out, nil
}

// CheckSchema validates field references against the input schema. Missing
// required columns are a schema mismatch; any other dangling reference is a
// configuration error.
func (c *Config) CheckSchema(schema *record.Schema, path string) error {
	var missing []string
	for _, name := range c.Schema.Required {
		if !schema.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &etlerr.SchemaMismatchError{Path: path, Missing: missing}
	}

	check := func(field, name string) error {
		if name == "" || schema.Has(name) {
			return nil
		}
		return &etlerr.ConfigurationError{Field: field, Reason: fmt.Sprintf("field %q does not exist in the input", name)}
	}

	for _, name := range c.Dedupe.KeyFields {
		if err := check("dedupe.key_fields", name); err != nil {
			return err
		}
	}
	if c.Similarity.Enabled {
		for i, g := range c.Similarity.Groups {
			for _, name := range g.Columns {
				if err := check(fmt.Sprintf("similarity.groups[%d].columns", i), name); err != nil {
					return err
				}
			}
		}
		for _, name := range c.Similarity.GuardFields {
			if err := check("similarity.guard_fields", name); err != nil {
				return err
			}
		}
		if err := check("similarity.blocking_field", c.Similarity.BlockingField); err != nil {
			return err
		}
	}
	if err := check("resolve.timestamp_field", c.Resolve.TimestampField); err != nil {
		return err
	}
	if name := c.Resolve.TimestampField; name != "" {
		idx, _ := schema.Index(name)
		if t := schema.Field(idx).Type; t != record.TypeDate && t != record.TypeNumber {
			return &etlerr.ConfigurationError{
				Field:  "resolve.timestamp_field",
				Reason: fmt.Sprintf("field %q is %s; it must be a date or number column", name, t),
			}
		}
	}
	if err := check("id_field", c.IDField); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Schema.Types))
	for name := range c.Schema.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := check("schema.types", name); err != nil {
			return err
		}
	}
	return nil
}

func firstDuplicate(items []string) string {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it] {
			return it
		}
		seen[it] = true
	}
	return ""
}
