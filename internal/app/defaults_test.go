package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaths(t *testing.T) {
	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PIBACKUP_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("PIBACKUP_HOME", "/custom/pibackup")
		t.Setenv("PIBACKUP_MOUNT_BASE", "/mnt/usb/")

		got, err := ResolvePaths()
		if err != nil {
			t.Fatalf("ResolvePaths() error = %v", err)
		}
		want := Paths{
			ConfigPath: "/custom/config.toml",
			BaseDir:    "/custom/pibackup",
			LogDir:     "/custom/pibackup/log",
			MountBase:  "/mnt/usb",
		}
		if got != want {
			t.Errorf("ResolvePaths() = %+v, want %+v", got, want)
		}
	})

	t.Run("home and mount defaults", func(t *testing.T) {
		t.Setenv("PIBACKUP_CONFIG_PATH", "")
		t.Setenv("PIBACKUP_HOME", "")
		t.Setenv("PIBACKUP_MOUNT_BASE", "")

		got, err := ResolvePaths()
		if err != nil {
			t.Fatalf("ResolvePaths() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		base := filepath.Join(homeDir, ".local", "share", "pibackup")
		want := Paths{
			ConfigPath: filepath.Join(homeDir, ".config", "pibackup.toml"),
			BaseDir:    base,
			LogDir:     filepath.Join(base, "log"),
			MountBase:  DefaultMountBase,
		}
		if got != want {
			t.Errorf("ResolvePaths() = %+v, want %+v", got, want)
		}
	})
}
