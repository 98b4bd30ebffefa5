// Package registry holds the metadata records for ingested videos. It is
// the single source of truth for a video's analysis status; only the
// ingestion orchestrator mutates records after creation.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/Thobla/TempAISpotter/internal/verdict"
)

var (
	// ErrNotFound reports that no video exists under the given id.
	ErrNotFound = errors.New("video not found")
	// ErrDuplicateID reports an insert for an id that is already taken.
	ErrDuplicateID = errors.New("video id already exists")
)

// Status tracks where a video sits in the ingestion pipeline.
type Status string

const (
	// StatusUploaded means the blob is stored and the record created, but
	// no analysis request has been issued yet.
	StatusUploaded Status = "uploaded"
	// StatusDispatched means an analysis request is in flight or a retry
	// is pending.
	StatusDispatched Status = "dispatched"
	// StatusAnalyzed is terminal: the analyzer returned a verdict.
	StatusAnalyzed Status = "analyzed"
	// StatusFailed is terminal for the attempt: the analyzer rejected the
	// video or the retry budget ran out.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status ends the current ingestion attempt.
func (s Status) Terminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

// Video is one ingested video record. The Locator always references a live
// blob for as long as the record exists.
type Video struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Locator     string           `json:"locator"`
	ContentType string           `json:"content_type"`
	SizeBytes   int64            `json:"size_bytes"`
	Checksum    string           `json:"checksum"`
	Status      Status           `json:"status"`
	Verdict     *verdict.Verdict `json:"verdict,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Registry is an in-memory keyed store of Video records. All methods are
// safe for concurrent use; Update applies its mutator under the lock so a
// read-modify-write is atomic.
type Registry struct {
	mu     sync.RWMutex
	videos map[int64]*Video
	order  []int64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{videos: map[int64]*Video{}}
}

// Insert adds a new record, failing on id collision.
func (r *Registry) Insert(v Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.videos[v.ID]; ok {
		return ErrDuplicateID
	}
	stored := v
	r.videos[v.ID] = &stored
	r.order = append(r.order, v.ID)
	return nil
}

// Get returns a copy of the record, if present.
func (r *Registry) Get(id int64) (Video, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.videos[id]
	if !ok {
		return Video{}, false
	}
	return *v, true
}

// List returns a fresh snapshot of all records in insertion order.
func (r *Registry) List() []Video {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Video, 0, len(r.order))
	for _, id := range r.order {
		if v, ok := r.videos[id]; ok {
			out = append(out, *v)
		}
	}
	return out
}

// Update applies mutate to the stored record atomically and stamps
// UpdatedAt. It fails with ErrNotFound if the record is absent.
func (r *Registry) Update(id int64, mutate func(*Video)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.videos[id]
	if !ok {
		return ErrNotFound
	}
	mutate(v)
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the record, failing with ErrNotFound if absent.
func (r *Registry) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.videos[id]; !ok {
		return ErrNotFound
	}
	delete(r.videos, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// MaxID returns the highest id currently stored, or zero when empty. The
// orchestrator seeds its id counter from it.
func (r *Registry) MaxID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max int64
	for id := range r.videos {
		if id > max {
			max = id
		}
	}
	return max
}
