// Package settings persists user preferences between runs. Settings are
// advisory: a missing or unparseable file falls back to defaults rather
// than failing startup.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/perplexdev/perplex/internal/logger"
)

const fileName = ".perplex.json"

type Settings struct {
	ModelPath     string `json:"model_path,omitempty"`
	TokenizerPath string `json:"tokenizer_path,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	ExportAddr    string `json:"export_addr,omitempty"`
}

func Default() Settings {
	return Settings{BatchSize: 512}
}

func filePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fileName
	}
	return filepath.Join(home, fileName)
}

// Load reads the settings file, falling back to defaults on any failure.
func Load() Settings {
	s := Default()
	data, err := os.ReadFile(filePath())
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Log.Warn("failed to parse settings file", "path", filePath(), "err", err.Error())
		return Default()
	}
	if s.BatchSize <= 0 {
		s.BatchSize = Default().BatchSize
	}
	return s
}

// Save writes the settings file with owner-only permissions.
func (s Settings) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(filePath(), data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
