package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"letmego-core/internal/config/schema"
	coreerrors "letmego-core/internal/core/errors"
)

// YAMLSource loads configuration from YAML files
type YAMLSource struct {
	paths []string
}

// NewYAMLSource creates a new YAMLSource with the specified file paths
func NewYAMLSource(paths ...string) *YAMLSource {
	return &YAMLSource{
		paths: paths,
	}
}

// Name returns the source name
func (s *YAMLSource) Name() string {
	return "yaml"
}

// Priority returns the source priority
func (s *YAMLSource) Priority() int {
	return PriorityYAML
}

// LoadInto loads YAML configuration into the config structure.
// Files are applied in order; missing files are skipped. ${VAR} references
// are expanded from the environment. Unknown keys are an error.
func (s *YAMLSource) LoadInto(cfg *schema.Root) error {
	for _, path := range s.paths {
		if path == "" {
			continue
		}

		expandedPath, err := expandPath(path)
		if err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeInvalidParam, "failed to expand path %q", path)
		}

		data, err := os.ReadFile(expandedPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to read config file %q", expandedPath)
		}

		if err := decodeStrict(data, cfg); err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to parse YAML file %q", expandedPath)
		}
	}

	return nil
}

// FindConfigFile searches for a configuration file in standard locations.
// appType is "anchor" or "satellite". Returns "" when nothing is found.
func FindConfigFile(configFile string, appType string) string {
	if configFile != "" {
		if expanded, err := expandPath(configFile); err == nil {
			return expanded
		}
		return configFile
	}

	searchPaths := []string{
		"./" + appType + ".yaml",
		"./config.yaml",
	}
	if execPath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(execPath), appType+".yaml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".letmego", appType+".yaml"))
	}

	for _, path := range searchPaths {
		expanded, err := expandPath(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(expanded); err == nil {
			return expanded
		}
	}

	return ""
}

// expandPath expands ~ to user home directory
func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[1:])
	}

	return filepath.Clean(path), nil
}

func decodeStrict(data []byte, cfg *schema.Root) error {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
