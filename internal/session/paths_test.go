package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".dmsync", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestArchivePath(t *testing.T) {
	got := ArchivePath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "archive.db")) {
		t.Errorf("ArchivePath(test) = %q", got)
	}
}

func TestSessionConfigPath(t *testing.T) {
	got := SessionConfigPath("work")
	if !strings.HasSuffix(got, filepath.Join("sessions", "work", "session.toml")) {
		t.Errorf("SessionConfigPath(work) = %q", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("DMSYNC_SESSION", "from-env")

	if got := Resolve("from-flag"); got != "from-flag" {
		t.Errorf("Resolve(flag) = %q, want from-flag", got)
	}
	if got := Resolve(""); got != "from-env" {
		t.Errorf("Resolve() = %q, want from-env", got)
	}
}
