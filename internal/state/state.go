// Package state persists the backlight snapshot across daemon restarts.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "state.yaml"

// Snapshot holds the brightness and color written on shutdown and restored
// into the hardware files on the next startup.
type Snapshot struct {
	Brightness int       `yaml:"brightness"`
	Color      string    `yaml:"color"`
	SavedAt    time.Time `yaml:"saved_at"`
}

// Load reads the snapshot from dir. A missing file is not an error; it
// returns (nil, nil) so first startup proceeds without a restore.
func Load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &snap, nil
}

// Save writes the snapshot to dir atomically (temp file plus rename).
func Save(dir string, snap Snapshot) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	path := filepath.Join(dir, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
