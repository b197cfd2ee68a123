// Package config loads agent configuration from a YAML file.
//
// There are no environment lookups: everything comes from the file, from
// Default, or from explicit overrides applied by the caller.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved agent configuration. Paths are absolute or
// relative to the process working directory.
type Config struct {
	SpoolRoot       string        `json:"spool_root"`
	Fsync           bool          `json:"fsync"`
	BlockTimeout    time.Duration `json:"block_timeout"`
	OverflowEnabled bool          `json:"overflow_enabled"`
	OverflowDir     string        `json:"overflow_dir"`
	DrainInterval   time.Duration `json:"drain_interval"`
	BlobDir         string        `json:"blob_dir"`
	Database        string        `json:"database"`
	QueueCapacity   int           `json:"queue_capacity"`
	Workers         int           `json:"workers"`
}

// Default returns the configuration used when no file is given, with all
// storage under dataDir.
func Default(dataDir string) Config {
	return Config{
		SpoolRoot:       filepath.Join(dataDir, "segments"),
		Fsync:           true,
		BlockTimeout:    250 * time.Millisecond,
		OverflowEnabled: true,
		OverflowDir:     filepath.Join(dataDir, "overflow"),
		DrainInterval:   250 * time.Millisecond,
		BlobDir:         filepath.Join(dataDir, "blobs"),
		Database:        filepath.Join(dataDir, "ledger.db"),
		QueueCapacity:   64,
		Workers:         2,
	}
}

// Validate checks invariants the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.SpoolRoot == "" {
		errs = append(errs, &Error{Field: "spool_root", Message: "is required"})
	}
	if c.BlobDir == "" {
		errs = append(errs, &Error{Field: "blob_dir", Message: "is required"})
	}
	if c.Database == "" {
		errs = append(errs, &Error{Field: "database", Message: "is required"})
	}
	if c.OverflowEnabled && c.OverflowDir == "" {
		errs = append(errs, &Error{Field: "overflow.dir", Message: "is required when overflow is enabled"})
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, &Error{Field: "queue_capacity", Message: "must be at least 1"})
	}
	if c.Workers < 1 {
		errs = append(errs, &Error{Field: "workers", Message: "must be at least 1"})
	}
	if c.BlockTimeout < 0 {
		errs = append(errs, &Error{Field: "block_timeout", Message: "must not be negative"})
	}
	return errors.Join(errs...)
}

// Error describes one invalid configuration value.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// file mirrors the YAML layout. Pointers distinguish "absent" from zero.
type file struct {
	SpoolRoot     *string  `yaml:"spool_root"`
	Fsync         *bool    `yaml:"fsync"`
	BlockTimeout  *string  `yaml:"block_timeout"`
	BlobDir       *string  `yaml:"blob_dir"`
	Database      *string  `yaml:"database"`
	QueueCapacity *int     `yaml:"queue_capacity"`
	Workers       *int     `yaml:"workers"`
	Overflow      *overlay `yaml:"overflow"`
}

type overlay struct {
	Enabled       *bool   `yaml:"enabled"`
	Dir           *string `yaml:"dir"`
	DrainInterval *string `yaml:"drain_interval"`
}

// Load reads the YAML file at path, validates it against the embedded
// schema and applies it on top of Default. Relative paths in the file are
// resolved against the file's directory; the default data directory is
// "data" next to the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	base := filepath.Dir(path)
	return Parse(data, base)
}

// Parse is Load for in-memory content. base is the directory relative
// paths resolve against.
func Parse(data []byte, base string) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return Config{}, err
	}

	var f file
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true) // Reject unknown fields
		if err := decoder.Decode(&f); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg := Default(filepath.Join(base, "data"))
	if err := f.apply(&cfg, base); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (f file) apply(cfg *Config, base string) error {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	if f.SpoolRoot != nil {
		cfg.SpoolRoot = resolve(*f.SpoolRoot)
	}
	if f.Fsync != nil {
		cfg.Fsync = *f.Fsync
	}
	if f.BlockTimeout != nil {
		d, err := time.ParseDuration(*f.BlockTimeout)
		if err != nil {
			return &Error{Field: "block_timeout", Message: err.Error()}
		}
		cfg.BlockTimeout = d
	}
	if f.BlobDir != nil {
		cfg.BlobDir = resolve(*f.BlobDir)
	}
	if f.Database != nil {
		cfg.Database = resolve(*f.Database)
	}
	if f.QueueCapacity != nil {
		cfg.QueueCapacity = *f.QueueCapacity
	}
	if f.Workers != nil {
		cfg.Workers = *f.Workers
	}
	if o := f.Overflow; o != nil {
		if o.Enabled != nil {
			cfg.OverflowEnabled = *o.Enabled
		}
		if o.Dir != nil {
			cfg.OverflowDir = resolve(*o.Dir)
		}
		if o.DrainInterval != nil {
			d, err := time.ParseDuration(*o.DrainInterval)
			if err != nil {
				return &Error{Field: "overflow.drain_interval", Message: err.Error()}
			}
			cfg.DrainInterval = d
		}
	}
	return nil
}

// validateSchema unifies the decoded document with #Config.
func validateSchema(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}
	return formatCUEError(def.Unify(doc).Validate(cue.Concrete(true)))
}

// formatCUEError reports the first CUE error with its path and position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "config"
	if p := fieldPath(first.Path()); p != "" {
		field = p
	}
	format, args := first.Msg()
	cfgErr := &Error{Field: field, Message: fmt.Sprintf(format, args...)}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		cfgErr.Pos = positions[0]
	}
	return cfgErr
}

// fieldPath drops definition labels such as #Config from a CUE path.
func fieldPath(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if strings.HasPrefix(p, "#") {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ".")
}
