// Package checkpoint persists traversal progress so an interrupted crawl can
// resume. One checkpoint exists per logical crawl name.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_checkpoint_saves_total",
		Help: "Total checkpoint saves by backend",
	}, []string{"backend"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_checkpoint_errors_total",
		Help: "Total checkpoint failures by backend and operation",
	}, []string{"backend", "operation"})
)

// ErrInvalidName is returned for empty or unusable crawl names.
var ErrInvalidName = errors.New("invalid checkpoint name")

// State is the persisted progress of one crawl phase.
type State struct {
	// LastPage is the last completed page index (0 before the first page).
	LastPage int `json:"last_page"`

	// Count is the number of accumulated records.
	Count int `json:"count"`

	// ZeroStreak is the consecutive-empty-page counter.
	ZeroStreak int `json:"zero_streak"`

	// Records are the accumulated records.
	Records []record.Record `json:"records"`

	// Completed lists primary keys whose detail fetch has finished.
	Completed []string `json:"completed"`
}

// IsEmpty reports whether s carries no progress.
func (s State) IsEmpty() bool {
	return s.LastPage == 0 && s.Count == 0 && len(s.Records) == 0 && len(s.Completed) == 0
}

// Store loads, saves and clears checkpoints by crawl name.
//
// Load on a name that was never saved returns the zero State and a nil error.
type Store interface {
	Load(ctx context.Context, name string) (State, error)
	Save(ctx context.Context, name string, state State) error
	Clear(ctx context.Context, name string) error
}

// validateName rejects names that cannot be used as a file name or key.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
