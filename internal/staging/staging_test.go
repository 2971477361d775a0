package staging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/util"
)

func TestDirAllocator(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	alloc := NewDirAllocator(root)

	a, err := alloc.Acquire("visit", "2024/01/01 g1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !strings.HasPrefix(a.Name, "visit-2024_01_01_g1-") {
		t.Errorf("Name = %q, want sanitized label prefix", a.Name)
	}
	if err := util.WriteFile(a.FS, "files/x.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, a.Name, "files", "x.txt")); err != nil {
		t.Fatalf("file not on disk: %v", err)
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, a.Name)); !os.IsNotExist(err) {
		t.Errorf("area still present after Release: %v", err)
	}
	if err := a.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquireUnique(t *testing.T) {
	t.Parallel()
	alloc := NewMemAllocator()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		a, err := alloc.Acquire("visit", "same-group")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if seen[a.Name] {
			t.Fatalf("duplicate area name %q", a.Name)
		}
		seen[a.Name] = true
	}
}
