// Package loader provides multi-source configuration loading
package loader

import (
	"sort"

	"letmego-core/internal/config/schema"
	"letmego-core/internal/config/source"
	"letmego-core/internal/config/validator"
	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
)

// EnvPrefix is the environment variable prefix used by both applications
const EnvPrefix = "LETMEGO"

// Loader loads configuration from multiple sources in priority order
type Loader struct {
	sources []source.Source
}

// NewLoader creates a new Loader
func NewLoader() *Loader {
	return &Loader{
		sources: make([]source.Source, 0),
	}
}

// AddSource adds a configuration source
func (l *Loader) AddSource(s source.Source) {
	l.sources = append(l.sources, s)
}

// Load loads configuration from all sources in priority order and validates it
func (l *Loader) Load() (*schema.Root, error) {
	if len(l.sources) == 0 {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "no configuration sources registered")
	}

	sorted := make([]source.Source, len(l.sources))
	copy(sorted, l.sources)
	sort.Stable(source.ByPriority(sorted))

	cfg := &schema.Root{}
	for _, s := range sorted {
		corelog.Debugf("Loading configuration from source: %s (priority %d)", s.Name(), s.Priority())
		if err := s.LoadInto(cfg); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError,
				"failed to load configuration from source %s", s.Name())
		}
	}

	if result := validator.ValidateConfig(cfg); !result.IsValid() {
		return nil, coreerrors.New(coreerrors.CodeConfigError, result.Error())
	}

	return cfg, nil
}

// Load builds the standard source chain (defaults, YAML file, environment)
// for appType ("anchor" or "satellite"), appends extra sources such as
// command line overrides, and loads it
func Load(configFile, appType string, extra ...source.Source) (*schema.Root, error) {
	l := NewLoader()
	l.AddSource(source.NewDefaultSource())

	if path := source.FindConfigFile(configFile, appType); path != "" {
		corelog.Debugf("Using config file: %s", path)
		l.AddSource(source.NewYAMLSource(path))
	}

	l.AddSource(source.NewEnvSource(EnvPrefix))
	for _, s := range extra {
		l.AddSource(s)
	}
	return l.Load()
}
