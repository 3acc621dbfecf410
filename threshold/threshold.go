// Package threshold implements the per-owner qualification threshold.
package threshold

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/curatelab/curator/score"
)

// Default is the threshold used when an owner has never set one. The agent and
// the backend both read this constant.
const Default = 55

// ErrOutOfRange is returned for thresholds outside 0-100
var ErrOutOfRange = errors.New("threshold must be between 0 and 100")

// Store persists thresholds by owner
type Store interface {
	GetThreshold(ctx context.Context, owner string) (value int, found bool, err error)
	SetThreshold(ctx context.Context, owner string, value int) error
}

// Normalize validates v and converts it to the 0-100 scale. Values in [0,1]
// are fractions.
func Normalize(v float64) (int, error) {
	if math.IsNaN(v) || v < 0 || v > score.Max {
		return 0, fmt.Errorf("%w: got %v", ErrOutOfRange, v)
	}
	return score.Normalize(v), nil
}

// Qualifies reports whether a stored score counts as qualified under t
func Qualifies(qualityScore, t int) bool {
	return score.Qualifies(qualityScore, t)
}

// Policy reads and writes owner thresholds
type Policy struct {
	store Store
}

// NewPolicy creates a policy backed by store
func NewPolicy(store Store) *Policy {
	return &Policy{store: store}
}

// Get returns the owner's threshold, or Default when unset
func (p *Policy) Get(ctx context.Context, owner string) (int, error) {
	v, found, err := p.store.GetThreshold(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to get threshold: %w", err)
	}
	if !found {
		return Default, nil
	}
	return v, nil
}

// Set stores v for owner and returns the normalized value
func (p *Policy) Set(ctx context.Context, owner string, v float64) (int, error) {
	n, err := Normalize(v)
	if err != nil {
		return 0, err
	}
	if err := p.store.SetThreshold(ctx, owner, n); err != nil {
		return 0, fmt.Errorf("failed to set threshold: %w", err)
	}
	return n, nil
}
