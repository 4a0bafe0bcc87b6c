package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionRecord is the restart-survival metadata spec.md §6 describes:
// "sessionId, workingDir, createdAt, terminalType, name... persisted but
// PTYs are never reattached; on startup the list is cleared." Grounded on
// internal/config/wing.go's yaml.v3 load/save pair.
type SessionRecord struct {
	SessionID    string    `yaml:"session_id"`
	WorkingDir   string    `yaml:"working_dir"`
	CreatedAt    time.Time `yaml:"created_at"`
	TerminalType string    `yaml:"terminal_type"`
	Name         string    `yaml:"name,omitempty"`
}

// DefaultSessionsPath returns ~/.echoshell/sessions.yaml.
func DefaultSessionsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".echoshell", "sessions.yaml"), nil
}

// LoadSessionRecords reads the persisted session list. A missing file is
// not an error — it just means there is nothing to report.
func LoadSessionRecords(path string) ([]SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []SessionRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveSessionRecords overwrites the persisted session list.
func SaveSessionRecords(path string, records []SessionRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ClearSessionRecords truncates the persisted list. Called once at
// workstation startup — PTYs never survive a restart, so any session
// metadata left over from a prior run is stale (spec.md §6).
func ClearSessionRecords(path string) error {
	return SaveSessionRecords(path, nil)
}
