package backup_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pibackup/internal/backup"
	"pibackup/internal/database"
	"pibackup/internal/fs"
	"pibackup/internal/testutil"
)

type serviceFixture struct {
	*diskEnv
	svc      *backup.Service
	registry *backup.Registry
	notifier *testutil.RecordingNotifier
	history  *database.SQLiteDatabase
	eject    *recordingUnmounter
}

func newServiceFixture(t *testing.T, copier backup.TreeCopier) *serviceFixture {
	t.Helper()
	env := newDiskEnv(t)
	logger := backup.NewNopLogger()
	osfs := afero.NewOsFs()

	f := &serviceFixture{
		diskEnv:  env,
		notifier: testutil.NewRecordingNotifier(),
		history:  testutil.NewTestHistory(t),
		eject:    &recordingUnmounter{},
	}
	f.registry = backup.NewRegistry(osfs, backup.RegistryConfig{
		MountBaseDir:      env.base,
		SourceMarker:      sourceMarker,
		DestinationMarker: destMarker,
		IdentityMarker:    idMarker,
	}, &testutil.StubProber{}, fs.NewLocator(env.base, "backup", logger), f.notifier, logger)

	f.svc = backup.NewService(backup.ServiceDeps{
		Registry: f.registry,
		Catalog: backup.NewCatalog(osfs, backup.CatalogConfig{
			MountBaseDir:   env.base,
			SnapshotPrefix: "backup",
		}, logger),
		Engine:    env.engine(t, copier),
		Pool:      backup.NewPool(2, logger),
		History:   f.history,
		Notifier:  f.notifier,
		Unmounter: f.eject,
		Clock:     env.clock,
		IDGen:     testutil.NewStubIDGenerator(),
		Logger:    logger,
	})
	t.Cleanup(func() { f.svc.Close() })

	if err := f.svc.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return f
}

func (f *serviceFixture) waitIdle(t *testing.T) backup.Status {
	t.Helper()
	if !f.svc.WaitIdle(10 * time.Second) {
		t.Fatal("job did not finish")
	}
	return f.svc.JobStatus()
}

func (f *serviceFixture) snapshots(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.dst, "backup*"))
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range matches {
		matches[i] = filepath.Base(m)
	}
	return matches
}

type recordingUnmounter struct {
	mu    sync.Mutex
	calls []string
}

func (u *recordingUnmounter) Unmount(mountPoint string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, mountPoint)
	return nil
}

func TestService_JobStatus_Idle(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))

	if got := f.svc.JobStatus(); got.State != backup.JobIdle || got.Result != nil {
		t.Errorf("JobStatus() = %+v, want idle", got)
	}
}

func TestService_RunBackup(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))

	resp := f.svc.RunBackup()
	if resp.Outcome != backup.RunAccepted {
		t.Fatalf("RunBackup() = %+v, want accepted", resp)
	}
	if !resp.StartTime.Equal(f.clock.Now()) {
		t.Errorf("StartTime = %v, want %v", resp.StartTime, f.clock.Now())
	}

	status := f.waitIdle(t)
	if status.State != backup.JobCompleted {
		t.Fatalf("State = %q, want completed", status.State)
	}
	if status.JobID != resp.JobID {
		t.Errorf("JobID = %q, want %q", status.JobID, resp.JobID)
	}
	if !status.Result.Succeeded() || !status.Result.HashMatch {
		t.Errorf("Result = %+v, want verified success", status.Result)
	}

	entries, err := f.svc.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "backup1" || entries[0].Metadata == nil {
		t.Fatalf("ListSnapshots() = %+v, want backup1 with metadata", entries)
	}
	if entries[0].FilebrowserURI != "/files/DST/backup1" {
		t.Errorf("FilebrowserURI = %q, want %q", entries[0].FilebrowserURI, "/files/DST/backup1")
	}

	if f.notifier.Count(backup.EventBackupStarted) != 1 || f.notifier.Count(backup.EventBackupFinished) != 1 {
		t.Errorf("events = %+v, want one started and one finished", f.notifier.Events())
	}

	records, err := f.svc.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(records) != 1 || records[0].Status != backup.StatusSuccess || !records[0].HashMatch {
		t.Errorf("History() = %+v, want one successful job", records)
	}
}

func TestService_RunBackup_AlreadyRunning(t *testing.T) {
	copier := testutil.NewBlockingCopier(fs.NewTreeCopier(backup.NewNopLogger()))
	f := newServiceFixture(t, copier)

	first := f.svc.RunBackup()
	if first.Outcome != backup.RunAccepted {
		t.Fatalf("first RunBackup() = %+v, want accepted", first)
	}
	<-copier.Started

	f.clock.Advance(90 * time.Second)
	status := f.svc.JobStatus()
	if status.State != backup.JobRunning {
		t.Fatalf("State = %q, want running", status.State)
	}
	if status.Elapsed != 90*time.Second {
		t.Errorf("Elapsed = %v, want %v", status.Elapsed, 90*time.Second)
	}

	second := f.svc.RunBackup()
	if second.Outcome != backup.RunAlreadyRunning {
		t.Fatalf("second RunBackup() = %+v, want already running", second)
	}
	if !second.StartTime.Equal(first.StartTime) {
		t.Errorf("second StartTime = %v, want original %v", second.StartTime, first.StartTime)
	}
	if second.JobID != first.JobID {
		t.Errorf("second JobID = %q, want %q", second.JobID, first.JobID)
	}

	close(copier.Release)
	f.waitIdle(t)

	if got := f.snapshots(t); len(got) != 1 {
		t.Errorf("snapshot dirs = %v, want exactly one", got)
	}
}

func TestService_RunBackup_FailureReleasesSlot(t *testing.T) {
	copier := &failOnceCopier{inner: fs.NewTreeCopier(backup.NewNopLogger())}
	f := newServiceFixture(t, copier)

	if resp := f.svc.RunBackup(); resp.Outcome != backup.RunAccepted {
		t.Fatalf("RunBackup() = %+v, want accepted", resp)
	}
	status := f.waitIdle(t)
	if status.State != backup.JobCompleted || status.Result.Status != backup.StatusFailed {
		t.Fatalf("status = %+v, want completed with failure", status)
	}
	if status.Result.PartialPath == "" {
		t.Error("PartialPath not recorded")
	}

	resp := f.svc.RunBackup()
	if resp.Outcome != backup.RunAccepted {
		t.Fatalf("RunBackup() after failure = %+v, want accepted", resp)
	}
	status = f.waitIdle(t)
	if !status.Result.Succeeded() {
		t.Errorf("second job = %+v, want success", status.Result)
	}
	// The failed attempt keeps its number; the retry takes the next one.
	if status.Result.SnapshotName != "backup2" {
		t.Errorf("SnapshotName = %q, want %q", status.Result.SnapshotName, "backup2")
	}

	records, _ := f.svc.History(10)
	if len(records) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(records))
	}
}

type failOnceCopier struct {
	inner  backup.TreeCopier
	mu     sync.Mutex
	failed bool
}

func (c *failOnceCopier) CopyTree(src, dst string) error {
	c.mu.Lock()
	first := !c.failed
	c.failed = true
	c.mu.Unlock()
	if first {
		return testutil.FailingCopier{}.CopyTree(src, dst)
	}
	return c.inner.CopyTree(src, dst)
}

func TestService_RunBackup_PanicReleasesSlot(t *testing.T) {
	f := newServiceFixture(t, testutil.PanickingCopier{})

	if resp := f.svc.RunBackup(); resp.Outcome != backup.RunAccepted {
		t.Fatalf("RunBackup() = %+v, want accepted", resp)
	}
	status := f.waitIdle(t)
	if status.State != backup.JobCompleted || status.Result.Status != backup.StatusFailed {
		t.Fatalf("status = %+v, want completed with failure", status)
	}
	if f.svc.RunBackup().Outcome != backup.RunAccepted {
		t.Error("RunBackup() after panic not accepted")
	}
	f.waitIdle(t)
}

func TestService_RunBackup_RootsUndefined(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))
	if err := os.Remove(filepath.Join(f.dst, destMarker)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.RefreshRoots(); err != nil {
		t.Fatal(err)
	}

	resp := f.svc.RunBackup()
	if resp.Outcome != backup.RunRejected {
		t.Fatalf("RunBackup() = %+v, want rejected", resp)
	}
	if resp.Reason == "" {
		t.Error("Reason is empty")
	}
	if got := f.svc.JobStatus().State; got != backup.JobIdle {
		t.Errorf("State = %q, want idle", got)
	}
	if _, err := f.svc.ListSnapshots(); !errors.Is(err, backup.ErrNoDestinationRoot) {
		t.Errorf("ListSnapshots() error = %v, want ErrNoDestinationRoot", err)
	}
}

func TestService_RunBackup_AmbiguousRoots(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))
	testutil.WriteTree(t, f.base, map[string]string{"OTHER/" + destMarker: ""})
	if _, err := f.registry.RefreshRoots(); err != nil {
		t.Fatal(err)
	}

	if resp := f.svc.RunBackup(); resp.Outcome != backup.RunRejected {
		t.Errorf("RunBackup() = %+v, want rejected", resp)
	}
}

func TestService_RunBackup_DestinationInsideSource(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))
	if err := os.Remove(filepath.Join(f.dst, destMarker)); err != nil {
		t.Fatal(err)
	}
	testutil.WriteTree(t, f.src, map[string]string{"vault/" + destMarker: ""})
	roots, err := f.registry.RefreshRoots()
	if err != nil {
		t.Fatal(err)
	}
	if roots.Destination != filepath.Join(f.src, "vault") {
		t.Fatalf("Destination = %q, want inside source", roots.Destination)
	}

	resp := f.svc.RunBackup()
	if resp.Outcome != backup.RunRejected {
		t.Fatalf("RunBackup() = %+v, want rejected", resp)
	}
	if resp.Reason != backup.ErrDestinationInSource.Error() {
		t.Errorf("Reason = %q, want %q", resp.Reason, backup.ErrDestinationInSource)
	}
	if got := f.svc.JobStatus().State; got != backup.JobIdle {
		t.Errorf("State = %q, want idle", got)
	}
	if _, err := os.Stat(filepath.Join(f.src, "vault", "backup1")); !os.IsNotExist(err) {
		t.Errorf("snapshot created inside source: %v", err)
	}
}

func TestService_SetRoles_WhileRunning(t *testing.T) {
	copier := testutil.NewBlockingCopier(fs.NewTreeCopier(backup.NewNopLogger()))
	f := newServiceFixture(t, copier)

	f.svc.RunBackup()
	<-copier.Started

	_, err := f.svc.SetRoles(backup.RoleAssignment{Clear: []string{"DST"}})
	if !errors.Is(err, backup.ErrJobRunning) {
		t.Errorf("SetRoles() error = %v, want ErrJobRunning", err)
	}
	if _, err := os.Stat(filepath.Join(f.dst, destMarker)); err != nil {
		t.Errorf("destination marker changed during job: %v", err)
	}

	close(copier.Release)
	f.waitIdle(t)

	roots, err := f.svc.SetRoles(backup.RoleAssignment{Clear: []string{"DST"}})
	if err != nil {
		t.Fatalf("SetRoles() after job error = %v", err)
	}
	if roots.Destination != "" {
		t.Errorf("Destination = %q, want undefined", roots.Destination)
	}
}

func TestService_ListVolumes(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))

	volumes, err := f.svc.ListVolumes()
	if err != nil {
		t.Fatalf("ListVolumes() error = %v", err)
	}
	if len(volumes) != 2 {
		t.Fatalf("len(ListVolumes()) = %d, want 2", len(volumes))
	}
	if !volumes[0].IsDestination || !volumes[1].IsSource {
		t.Errorf("volumes = %+v %+v, want DST destination and SRC source", volumes[0], volumes[1])
	}
	if got := f.svc.Roots(); got != f.roots {
		t.Errorf("Roots() = %+v, want %+v", got, f.roots)
	}
}

func TestService_RefreshVolumes(t *testing.T) {
	f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))
	testutil.WriteTree(t, f.base, map[string]string{"NEW/": ""})

	if err := f.svc.RefreshVolumes(true); err != nil {
		t.Fatalf("RefreshVolumes() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.notifier.Count(backup.EventVolumesChanged) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no volumes_changed event")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_Eject(t *testing.T) {
	t.Run("unmounts idle volume", func(t *testing.T) {
		f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))
		if err := f.svc.Eject("SRC"); err != nil {
			t.Fatalf("Eject() error = %v", err)
		}
		if len(f.eject.calls) != 1 || f.eject.calls[0] != f.src {
			t.Errorf("unmount calls = %v, want [%s]", f.eject.calls, f.src)
		}
	})

	t.Run("unknown volume", func(t *testing.T) {
		f := newServiceFixture(t, fs.NewTreeCopier(backup.NewNopLogger()))
		if err := f.svc.Eject("NOPE"); !errors.Is(err, backup.ErrUnknownVolume) {
			t.Errorf("Eject() error = %v, want ErrUnknownVolume", err)
		}
	})

	t.Run("refused for a root while running", func(t *testing.T) {
		copier := testutil.NewBlockingCopier(fs.NewTreeCopier(backup.NewNopLogger()))
		f := newServiceFixture(t, copier)
		f.svc.RunBackup()
		<-copier.Started

		err := f.svc.Eject("DST")
		close(copier.Release)
		f.waitIdle(t)

		if !errors.Is(err, backup.ErrJobRunning) {
			t.Errorf("Eject() error = %v, want ErrJobRunning", err)
		}
		if len(f.eject.calls) != 0 {
			t.Errorf("unmount calls = %v, want none", f.eject.calls)
		}
	})
}
