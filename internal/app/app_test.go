package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pibackup/internal/backup"
	"pibackup/internal/config"
	"pibackup/internal/database"
	"pibackup/internal/testutil"
)

// newTestConfig returns a config rooted in a temp dir with a source volume
// SRC and a destination volume DST under the mount base.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("host-1", base)
	cfg.Mounts.BaseDir = filepath.Join(base, "media")
	cfg.Database.DataDir = filepath.Join(base, "db")
	cfg.Server.Listen = "127.0.0.1:0"

	testutil.WriteTree(t, cfg.Mounts.BaseDir, map[string]string{
		"SRC/.backup_source":  "",
		"SRC/docs/report.txt": "quarterly numbers",
		"DST/.backup_dest":    "",
	})
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, command string) *App {
	t.Helper()
	a, err := newApp(cfg, command, io.Discard)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a
}

func TestApp_BackupRoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, "backup")

	svc := a.Service()
	roots := svc.Roots()
	if roots.Source != filepath.Join(cfg.Mounts.BaseDir, "SRC") {
		t.Errorf("Source = %q", roots.Source)
	}

	resp := svc.RunBackup()
	if resp.Outcome != backup.RunAccepted {
		t.Fatalf("RunBackup() outcome = %q (%s), want accepted", resp.Outcome, resp.Reason)
	}
	if !svc.WaitIdle(10 * time.Second) {
		t.Fatal("backup did not finish")
	}

	st := svc.JobStatus()
	if st.State != backup.JobCompleted || !st.Result.Succeeded() || !st.Result.HashMatch {
		t.Fatalf("JobStatus() = %+v, result %+v", st, st.Result)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Mounts.BaseDir, "DST", "backup1", "docs", "report.txt"))
	if err != nil || string(data) != "quarterly numbers" {
		t.Errorf("copied file = %q, %v", data, err)
	}

	entries, err := svc.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(entries) != 1 || entries[0].FilebrowserURI != "/files/DST/backup1" {
		t.Errorf("ListSnapshots() = %+v", entries)
	}

	records, err := svc.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(records) != 1 || records[0].Status != backup.StatusSuccess {
		t.Errorf("History() = %+v, want one successful job", records)
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.LogDir, logFileName)); err != nil {
		t.Errorf("log file not written: %v", err)
	}
}

func TestApp_ServeMarksInterruptedJobs(t *testing.T) {
	cfg := newTestConfig(t)

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.RecordStart(&backup.Job{ID: "crashed", StartTime: time.Now()}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	a := newTestApp(t, cfg, "serve")
	defer a.Close()

	records, err := a.Service().History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != backup.StatusFailed {
		t.Errorf("History() = %+v, want the crashed job failed", records)
	}
}

func TestApp_Serve(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, "serve")
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Backup.HashAlgorithm = "md5"

	if _, err := newApp(cfg, "backup", io.Discard); err == nil {
		t.Fatal("newApp() expected error for invalid config")
	}
}
