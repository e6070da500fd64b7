package memdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the file form of Options:
//
//	name: app
//	defaults: {seed: 1, increment: 1}
//	collections:
//	  activities: {seed: 1000, increment: 10}
//	sinks:
//	  - kind: file
//	    path: data/transactions.log
//	    sync: true
//	  - kind: debug
//	    enabled: false
type Config struct {
	Name        string                       `yaml:"name"`
	Verbose     bool                         `yaml:"verbose"`
	Defaults    CollectionOptions            `yaml:"defaults"`
	Collections map[string]CollectionOptions `yaml:"collections"`
	Sinks       []SinkConfig                 `yaml:"sinks"`

	// dir resolves relative sink paths; empty means the working directory.
	dir string
}

type SinkKind string

const (
	SinkFile  SinkKind = "file"
	SinkDebug SinkKind = "debug"
	SinkBolt  SinkKind = "bolt"
)

type SinkConfig struct {
	Kind    SinkKind `yaml:"kind"`
	Path    string   `yaml:"path"`
	Enabled *bool    `yaml:"enabled"`
	Sync    bool     `yaml:"sync"`
}

func (sc *SinkConfig) enabled() bool {
	return sc.Enabled == nil || *sc.Enabled
}

// LoadConfig reads a YAML config file. Relative sink paths are resolved
// against the file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: config: %w", ErrIO, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{Name: "memdb"}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, invalidArgf("config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if isBlank(cfg.Name) {
		return invalidArgf("config: empty name")
	}
	if _, err := cfg.Defaults.normalize(); err != nil {
		return fmt.Errorf("config: defaults: %w", err)
	}
	for name, o := range cfg.Collections {
		if isBlank(name) {
			return invalidArgf("config: empty collection name")
		}
		if o.Seed < 0 || o.Increment < 0 {
			return invalidArgf("config: collection %s: identity seed %d or increment %d is not positive", name, o.Seed, o.Increment)
		}
	}
	for i, sc := range cfg.Sinks {
		switch sc.Kind {
		case SinkFile, SinkBolt:
			if isBlank(sc.Path) {
				return invalidArgf("config: sink %d (%s): missing path", i+1, sc.Kind)
			}
		case SinkDebug:
		default:
			return invalidArgf("config: sink %d: unknown kind %q", i+1, sc.Kind)
		}
	}
	return nil
}

func (cfg *Config) resolve(path string) string {
	if cfg.dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.dir, path)
}

// Open creates the configured sinks and a database that uses them.
func (cfg *Config) Open(logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := make([]Sink, 0, len(cfg.Sinks))
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}
	for _, sc := range cfg.Sinks {
		var s Sink
		var err error
		switch sc.Kind {
		case SinkFile:
			s, err = NewFileSink(cfg.resolve(sc.Path), FileSinkOptions{
				Sync:     sc.Sync,
				Disabled: !sc.enabled(),
				Logger:   logger,
				Verbose:  cfg.Verbose,
			})
		case SinkBolt:
			s, err = NewBoltSink(cfg.resolve(sc.Path), BoltSinkOptions{
				Sync:     sc.Sync,
				Disabled: !sc.enabled(),
				Logger:   logger,
				Verbose:  cfg.Verbose,
			})
		case SinkDebug:
			ds := NewDebugSink(nil, logger)
			ds.SetEnabled(sc.enabled())
			s = ds
		default:
			err = invalidArgf("unknown sink kind %q", sc.Kind)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("config: %w", err)
		}
		sinks = append(sinks, s)
	}

	db, err := Open(cfg.Name, Options{
		Logger:      logger,
		Verbose:     cfg.Verbose,
		Sinks:       sinks,
		Defaults:    cfg.Defaults,
		Collections: cfg.Collections,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	return db, nil
}

// Restore replays the log kept by the first enabled durable sink of db, which
// must have been opened from this config. Register collections before calling
// it, or pass a Resolve function.
func (cfg *Config) Restore(ctx context.Context, db *DB, opt RestoreOptions) (RestoreStats, error) {
	for _, s := range db.Sinks() {
		if !s.Enabled() {
			continue
		}
		switch s := s.(type) {
		case *FileSink:
			return Restore(ctx, db, s.Path(), opt)
		case *BoltSink:
			src, err := s.Source()
			if err != nil {
				return RestoreStats{}, &RestoreError{Source: s.bdb.Path(), Err: err}
			}
			defer src.Close()
			return NewRestorer(db, opt).Replay(ctx, src)
		}
	}
	return RestoreStats{}, nil
}
