package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultStaleAfter is how old an unreleased area must be before a Reaper
// removes it.
const DefaultStaleAfter = time.Hour

// ReapAction describes one removed area.
type ReapAction struct {
	Name string
	Age  time.Duration
}

// Reaper removes staging areas that a crashed worker never released.
// Only directories named like an area produced by Acquire are considered.
type Reaper struct {
	Root       string
	StaleAfter time.Duration    // areas last modified longer ago than this are removed
	Now        func() time.Time // defaults to time.Now
}

// Run removes stale areas under Root and reports what it removed. A missing
// Root is not an error.
func (r *Reaper) Run() ([]ReapAction, error) {
	stale := r.StaleAfter
	if stale == 0 {
		stale = DefaultStaleAfter
	}
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	entries, err := os.ReadDir(r.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("staging: reap %s: %w", r.Root, err)
	}

	var actions []ReapAction
	for _, e := range entries {
		if !e.IsDir() || !isAreaName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age < stale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.Root, e.Name())); err != nil {
			return actions, fmt.Errorf("staging: remove %s: %w", e.Name(), err)
		}
		actions = append(actions, ReapAction{Name: e.Name(), Age: age.Round(time.Second)})
	}
	return actions, nil
}

// isAreaName reports whether name ends in the random suffix Acquire adds.
func isAreaName(name string) bool {
	const suffix = 1 + 36
	if len(name) <= suffix || name[len(name)-suffix] != '-' {
		return false
	}
	_, err := uuid.Parse(name[len(name)-suffix+1:])
	return err == nil
}
