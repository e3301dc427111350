package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const FileName = "settings.yaml"

// File holds defaults applied when the matching CLI flag is not given.
type File struct {
	Output         string `yaml:"output"`
	UserAgent      string `yaml:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	TLSOverride    bool   `yaml:"tls_override"`
}

func Path(confDir string) string {
	return filepath.Join(confDir, FileName)
}

func Load(confDir string) (*File, error) {
	b, err := os.ReadFile(Path(confDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &f, nil
}
