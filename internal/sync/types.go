package sync

import (
	"errors"
	"time"
)

// Entity names, in the order they synchronize. Assets go first so audit
// sessions and category links downloaded later always reference assets
// that already exist locally.
var entityOrder = []string{"assets", "audits", "categories"}

var (
	// ErrSyncInProgress is returned when a sync is requested while one is
	// already running on this device.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrServerUnreachable is returned when the health probe fails before
	// any data moves.
	ErrServerUnreachable = errors.New("sync server unreachable")
)

// Result aggregates the outcome of one sync run.
type Result struct {
	Success    bool           `json:"success"`
	Uploaded   map[string]int `json:"uploaded"`
	Downloaded map[string]int `json:"downloaded"`
	Errors     []string       `json:"errors,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
}

func newResult() *Result {
	return &Result{
		Success:    true,
		Uploaded:   map[string]int{},
		Downloaded: map[string]int{},
		StartedAt:  time.Now().UTC(),
	}
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Errors = append(r.Errors, err.Error())
}

// mergeResults mirrors the merge endpoint's per-batch counters.
type mergeResults struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

type pushResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Results mergeResults `json:"results"`
}
