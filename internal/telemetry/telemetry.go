// Package telemetry records a JSONL journal of what a sync worker did:
// bootstraps, visit state transitions, retries and finished syncs. One line
// per event makes a worker's history greppable and easy to replay into
// other tooling.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event kinds.
const (
	KindBootstrapDone = "bootstrap_done"
	KindVisitState    = "visit_state"
	KindRetry         = "retry"
	KindSyncDone      = "sync_done"
	KindSyncFailed    = "sync_failed"
)

// Event is one journal line. Visit is the engine's visit key when the event
// concerns a single visit.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Visit     string    `json:"visit,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// StateChange is the Data of a KindVisitState event.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Emitter appends events to a journal. It is safe for concurrent use. A nil
// *Emitter discards everything.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *json.Encoder
	closer io.Closer
}

// New returns an Emitter writing to w. Closing it does not close w.
func New(w io.Writer) *Emitter {
	return &Emitter{w: w, enc: json.NewEncoder(w)}
}

// Open returns an Emitter appending to the file at path, creating it if
// needed.
func Open(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	e := New(f)
	e.closer = f
	return e, nil
}

// Emit writes evt, stamping it with the current time if Timestamp is zero.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode %s: %w", evt.Kind, err)
	}
	return nil
}

// Close closes the journal file, if the Emitter owns one.
func (e *Emitter) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.closer.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}

// Read decodes every event in r, in order.
func Read(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var out []Event
	for {
		var evt Event
		err := dec.Decode(&evt)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("telemetry: decode event %d: %w", len(out)+1, err)
		}
		out = append(out, evt)
	}
}
