// Package staging hands out uniquely named scratch areas for transfer
// packages. Each area is owned by the call that acquired it and is removed
// when released.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Area is one staging directory.
type Area struct {
	Name string
	FS   billy.Filesystem

	once    sync.Once
	release func() error
	err     error
}

// Release removes the area. It is safe to call more than once.
func (a *Area) Release() error {
	a.once.Do(func() {
		if a.release != nil {
			a.err = a.release()
		}
	})
	return a.err
}

// Allocator creates staging areas under a common root.
type Allocator struct {
	root string
	mem  bool
}

// NewDirAllocator places areas in subdirectories of root on the local disk.
func NewDirAllocator(root string) *Allocator {
	return &Allocator{root: root}
}

// NewMemAllocator places areas in memory. Intended for tests.
func NewMemAllocator() *Allocator {
	return &Allocator{mem: true}
}

// Acquire creates a fresh area whose name starts with prefix and label. The
// name carries a random suffix so concurrent callers using the same label
// never share an area.
func (a *Allocator) Acquire(prefix, label string) (*Area, error) {
	name := prefix
	if label != "" {
		name += "-" + unsafeChars.ReplaceAllString(label, "_")
	}
	name += "-" + uuid.NewString()

	if a.mem {
		return &Area{Name: name, FS: memfs.New()}, nil
	}

	dir := filepath.Join(a.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", dir, err)
	}
	return &Area{
		Name:    name,
		FS:      osfs.New(dir),
		release: func() error { return os.RemoveAll(dir) },
	}, nil
}
