// Package config defines the canonical, YAML-serializable configuration
// model for apitap. It mirrors the field-naming and "typed, explicit
// structs with light defaulting" style of the teacher's original JSON
// pipeline config, adapted to the shape the external spec and the original
// implementation's serde_yaml config both use: a list of HTTP sources and a
// list of relational targets, with SQL modules (see internal/module)
// declaring which source(s) they read and which target they sink into.
//
// Design goals carried over from the teacher:
//
//  1. Stability: changes here should be additive and backwards-compatible.
//  2. Clarity: field names mirror the YAML structure under config/*.yaml.
//  3. Minimalism: decoding uses gopkg.in/yaml.v3 directly onto these
//     structs; Auth's literal-or-env fields are the only place that needs
//     conditional resolution against the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level object decoded from the pipeline YAML file.
type Config struct {
	Sources []Source `yaml:"sources"`
	Targets []Target `yaml:"targets"`

	// Modules is the directory containing the .sql modules that drive the
	// pipeline runner (C9). Defaults to "modules" when empty.
	Modules string `yaml:"modules"`

	sourceIx map[string]int
	targetIx map[string]int
}

// Source describes one paginated HTTP/REST data source.
type Source struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// DataPath is a JSON-pointer-style selector ("/"-separated, "~1"/"~0"
	// escaping "/" and "~") locating the row array within an object-shaped
	// page response. Empty means the page response root is itself the row
	// array (or, for a bare object response, that object is the single row).
	DataPath string `yaml:"data_path"`

	Auth       *Auth       `yaml:"auth"`
	Pagination *Pagination `yaml:"pagination"`
	Retry      *Retry      `yaml:"retry"`

	// SampleSize bounds the schema-inference prefix (C2); 0 uses the
	// package default.
	SampleSize int `yaml:"sample_size"`

	// BatchSize bounds each C3 columnar batch; 0 uses the package default.
	BatchSize int `yaml:"batch_size"`

	// StrictSchema selects the §7 schema-coercion policy: false (default)
	// coerces a value that doesn't fit its column's frozen Kind to null and
	// logs it; true makes the same mismatch a fatal error.
	StrictSchema bool `yaml:"strict_schema"`
}

// PaginationStrategy enumerates the C6 pagination drivers.
type PaginationStrategy string

const (
	StrategyLimitOffset PaginationStrategy = "limit_offset"
	StrategyPageNumber  PaginationStrategy = "page_number"
	StrategyPageOnly    PaginationStrategy = "page_only"
	StrategyCursor      PaginationStrategy = "cursor"
)

// Pagination carries the parameters for one of the four pagination
// strategies. Only the fields relevant to Strategy are consulted.
type Pagination struct {
	Strategy PaginationStrategy `yaml:"strategy"`

	LimitParam  string `yaml:"limit_param"`
	OffsetParam string `yaml:"offset_param"`

	PageParam     string `yaml:"page_param"`
	PageSizeParam string `yaml:"page_size_param"`
	FirstPage     int    `yaml:"first_page"`

	CursorParam string `yaml:"cursor_param"`
	CursorPath  string `yaml:"cursor_path"`

	PageSize    int `yaml:"page_size"`
	Concurrency int `yaml:"concurrency"`

	// TotalItemsPath/TotalPagesPath are dotted paths into the first page's
	// response body used to learn the FetchStats total hint.
	TotalItemsPath string `yaml:"total_items_path"`
	TotalPagesPath string `yaml:"total_pages_path"`
}

// Retry overrides the default retry.Policy for a single source.
type Retry struct {
	MaxAttempts    int `yaml:"max_attempts"`
	InitialDelayMS int `yaml:"initial_delay_ms"`
	MaxDelayMS     int `yaml:"max_delay_ms"`
}

// Auth describes how to authenticate outgoing requests. Exactly one of the
// literal or *_env variant of each credential field should be set; Resolve
// prefers the *_env variant when both are present.
type Auth struct {
	Type string `yaml:"type"` // "bearer", "basic", "header"

	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	UsernameEnv string `yaml:"username_env"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`

	HeaderName string `yaml:"header_name"`
}

// resolved returns the literal value, preferring the named environment
// variable when set.
func resolved(literal, envVar string) (string, error) {
	if envVar == "" {
		return literal, nil
	}
	v, ok := os.LookupEnv(envVar)
	if !ok {
		return "", fmt.Errorf("config: environment variable %q referenced but not set", envVar)
	}
	return v, nil
}

// Resolve materializes the credential fields of Auth against the process
// environment, returning the (kind, primary, secondary, header name) tuple
// the HTTP fetcher needs to attach to each request.
func (a *Auth) Resolve() (kind, primary, secondary, headerName string, err error) {
	if a == nil {
		return "", "", "", "", nil
	}
	switch a.Type {
	case "bearer", "header":
		tok, err := resolved(a.Token, a.TokenEnv)
		if err != nil {
			return "", "", "", "", err
		}
		return a.Type, tok, "", a.HeaderName, nil
	case "basic":
		u, err := resolved(a.Username, a.UsernameEnv)
		if err != nil {
			return "", "", "", "", err
		}
		p, err := resolved(a.Password, a.PasswordEnv)
		if err != nil {
			return "", "", "", "", err
		}
		return a.Type, u, p, "", nil
	default:
		return "", "", "", "", fmt.Errorf("config: unknown auth.type %q", a.Type)
	}
}

// WriteMode enumerates the C8 destination write modes.
type WriteMode string

const (
	WriteAppend  WriteMode = "append"
	WriteReplace WriteMode = "replace"
	WriteMerge   WriteMode = "merge"
)

// Target describes one relational warehouse destination. Kind selects the
// registered destination.Repository implementation (see
// internal/destination); the DSN/Host/... fields are interpreted by that
// backend.
type Target struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "postgres", "mysql", "mssql", "sqlite", "bigquery", "clickhouse"

	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`

	Username    string `yaml:"username"`
	UsernameEnv string `yaml:"username_env"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`

	WriteMode       WriteMode `yaml:"write_mode"`
	MergeKey        []string  `yaml:"merge_key"`
	AutoCreateTable bool      `yaml:"auto_create_table"`
}

// ResolveDSN returns the literal DSN, preferring DSNEnv when set.
func (t Target) ResolveDSN() (string, error) {
	return resolved(t.DSN, t.DSNEnv)
}

// Load reads and decodes the pipeline YAML at path, then builds the
// name-lookup indexes used by Source/Target.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Modules == "" {
		c.Modules = "modules"
	}
	if err := c.buildIndexes(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) buildIndexes() error {
	c.sourceIx = make(map[string]int, len(c.Sources))
	for i, s := range c.Sources {
		if _, dup := c.sourceIx[s.Name]; dup {
			return fmt.Errorf("config: duplicate source name %q", s.Name)
		}
		c.sourceIx[s.Name] = i
	}
	c.targetIx = make(map[string]int, len(c.Targets))
	for i, t := range c.Targets {
		if _, dup := c.targetIx[t.Name]; dup {
			return fmt.Errorf("config: duplicate target name %q", t.Name)
		}
		c.targetIx[t.Name] = i
	}
	return nil
}

// Source looks up a source by name.
func (c *Config) Source(name string) (Source, bool) {
	i, ok := c.sourceIx[name]
	if !ok {
		return Source{}, false
	}
	return c.Sources[i], true
}

// Target looks up a target by name.
func (c *Config) Target(name string) (Target, bool) {
	i, ok := c.targetIx[name]
	if !ok {
		return Target{}, false
	}
	return c.Targets[i], true
}
