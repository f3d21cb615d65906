package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMountBase is where removable volumes are mounted when
// PIBACKUP_MOUNT_BASE is unset.
const DefaultMountBase = "/media"

// Paths are the filesystem locations pibackup uses before a config exists.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	MountBase  string
}

// ResolvePaths returns the default locations, each overridable by environment:
//   - PIBACKUP_CONFIG_PATH: config file (~/.config/pibackup.toml)
//   - PIBACKUP_HOME: data directory holding the log and job database (~/.local/share/pibackup)
//   - PIBACKUP_MOUNT_BASE: directory volumes are mounted under (/media)
func ResolvePaths() (Paths, error) {
	var home string
	userHome := func() (string, error) {
		if home != "" {
			return home, nil
		}
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = h
		return home, nil
	}

	var p Paths
	if p.ConfigPath = os.Getenv("PIBACKUP_CONFIG_PATH"); p.ConfigPath == "" {
		h, err := userHome()
		if err != nil {
			return Paths{}, err
		}
		p.ConfigPath = filepath.Join(h, ".config", "pibackup.toml")
	}
	if p.BaseDir = os.Getenv("PIBACKUP_HOME"); p.BaseDir == "" {
		h, err := userHome()
		if err != nil {
			return Paths{}, err
		}
		p.BaseDir = filepath.Join(h, ".local", "share", "pibackup")
	}
	p.LogDir = filepath.Join(p.BaseDir, "log")

	p.MountBase = DefaultMountBase
	if base := os.Getenv("PIBACKUP_MOUNT_BASE"); base != "" {
		p.MountBase = filepath.Clean(base)
	}
	return p, nil
}
