package whitelist

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"vigil/event"
)

func TestProcessMatchIsExactAndCaseInsensitive(t *testing.T) {
	f := New()
	f.AddProcess("Backup.EXE")

	if !f.Match(event.FileEvent{Path: "/data/x", ProcessName: "backup.exe"}) {
		t.Error("case-insensitive process match failed")
	}
	if f.Match(event.FileEvent{Path: "/data/x", ProcessName: "backup"}) {
		t.Error("prefix of process name must not match")
	}
	if f.Match(event.FileEvent{Path: "/data/x", ProcessName: "backup.exe.evil"}) {
		t.Error("superstring of process name must not match")
	}
	if !f.MatchProcess("BACKUP.exe") {
		t.Error("MatchProcess failed")
	}
}

func TestDirectoryPrefixMatch(t *testing.T) {
	f := New()
	f.AddDirectory("/home/user/safe")

	if !f.Match(event.FileEvent{Path: "/home/user/safe/deep/nested/file.bin"}) {
		t.Error("nested path under whitelisted dir should match")
	}
	if f.Match(event.FileEvent{Path: "/home/user/safer/file.bin"}) {
		t.Error("sibling with shared string prefix must not match")
	}
	if f.Match(event.FileEvent{Path: "/home/user/file.bin"}) {
		t.Error("parent of whitelisted dir must not match")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	f := New()
	first := f.AddProcess("rsync")
	second := f.AddProcess("RSYNC")
	if f.Len() != 1 {
		t.Fatalf("Len = %d after duplicate add, want 1", f.Len())
	}
	if !first.AddedAt.Equal(second.AddedAt) {
		t.Error("duplicate add replaced original entry")
	}

	f.AddDirectory("/srv/backups")
	f.AddDirectory("/srv/backups/")
	if f.Len() != 2 {
		t.Fatalf("Len = %d after duplicate dir add, want 2", f.Len())
	}
}

func TestRemove(t *testing.T) {
	f := New()
	f.AddProcess("rsync")
	f.AddDirectory("/srv/backups")

	if !f.Remove(KindProcess, "RSYNC") {
		t.Error("remove existing process returned false")
	}
	if f.Remove(KindProcess, "rsync") {
		t.Error("second remove should report missing")
	}
	if !f.Remove(KindDirectory, "/srv/backups") {
		t.Error("remove existing directory returned false")
	}
	if f.Len() != 0 {
		t.Errorf("Len = %d, want 0", f.Len())
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	f := New()
	f.AddDirectory("/stable")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			f.AddProcess("proc")
			f.Remove(KindProcess, "proc")
		}
	}()

	ev := event.FileEvent{Path: "/stable/file.txt"}
	for i := 0; i < 10000; i++ {
		if !f.Match(ev) {
			t.Error("stable entry missing during concurrent writes")
			break
		}
	}
	close(stop)
	wg.Wait()
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	content := `{"processes": ["rsync", "borg"], "directories": ["/var/backups"]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	f := New()
	n, err := f.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 3 {
		t.Errorf("loaded %d entries, want 3", n)
	}
	if !f.MatchProcess("borg") {
		t.Error("seeded process missing")
	}

	if _, err := f.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
