// Package tracker gates agent submissions so each canonical URL is sent to
// the backend at most once at a time and never again after it is confirmed.
package tracker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/curatelab/curator/canonical"
	"github.com/curatelab/curator/metrics"
)

// State is the submission state of a URL
type State int

const (
	NotSubmitted State = iota
	Pending
	Confirmed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	default:
		return "not-submitted"
	}
}

// ConfirmedStore persists the confirmed set
type ConfirmedStore interface {
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, urls ...string) error
	Clear(ctx context.Context) error
}

// URLLister returns the URLs the backend already holds for the owner
type URLLister interface {
	UserURLs(ctx context.Context) ([]string, error)
}

// Tracker holds pending URLs in memory and confirmed URLs in memory backed
// by a ConfirmedStore. Every key is a canonical URL.
type Tracker struct {
	mu        sync.Mutex
	pending   map[string]struct{}
	confirmed map[string]struct{}
	store     ConfirmedStore
}

// New creates a tracker and loads the persisted confirmed set
func New(ctx context.Context, store ConfirmedStore) (*Tracker, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	urls, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed urls: %w", err)
	}

	t := &Tracker{
		pending:   make(map[string]struct{}),
		confirmed: make(map[string]struct{}, len(urls)),
		store:     store,
	}
	for _, u := range urls {
		t.confirmed[canonical.URL(u)] = struct{}{}
	}
	return t, nil
}

// State returns the current state of url
func (t *Tracker) State(url string) State {
	key := canonical.URL(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(key)
}

func (t *Tracker) stateLocked(key string) State {
	if _, ok := t.confirmed[key]; ok {
		return Confirmed
	}
	if _, ok := t.pending[key]; ok {
		return Pending
	}
	return NotSubmitted
}

// ShouldSubmit reports whether url is neither pending nor confirmed
func (t *Tracker) ShouldSubmit(url string) bool {
	return t.State(url) == NotSubmitted
}

// MarkPending records that a submission for url is in flight
func (t *Tracker) MarkPending(url string) {
	key := canonical.URL(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[key] = struct{}{}
}

// TryAcquire marks url pending if it may be submitted and reports whether it
// did. Concurrent callers for the same URL get true at most once.
func (t *Tracker) TryAcquire(url string) bool {
	key := canonical.URL(url)
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.stateLocked(key) {
	case Confirmed:
		metrics.TrackerDecisions.WithLabelValues("skipped_confirmed").Inc()
		return false
	case Pending:
		metrics.TrackerDecisions.WithLabelValues("skipped_pending").Inc()
		return false
	}

	t.pending[key] = struct{}{}
	metrics.TrackerDecisions.WithLabelValues("acquired").Inc()
	return true
}

// MarkConfirmed moves url from pending to confirmed. The URL stays
// confirmed in memory even when persisting it fails.
func (t *Tracker) MarkConfirmed(ctx context.Context, url string) error {
	key := canonical.URL(url)
	t.mu.Lock()
	delete(t.pending, key)
	t.confirmed[key] = struct{}{}
	t.mu.Unlock()

	if err := t.store.Add(ctx, key); err != nil {
		return fmt.Errorf("failed to persist confirmed url: %w", err)
	}
	return nil
}

// MarkFailed releases the pending mark so url can be submitted again
func (t *Tracker) MarkFailed(url string) {
	key := canonical.URL(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}

// Reconcile merges the backend's URLs into the confirmed set and returns how
// many were new
func (t *Tracker) Reconcile(ctx context.Context, lister URLLister) (int, error) {
	urls, err := lister.UserURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list backend urls: %w", err)
	}

	var added []string
	t.mu.Lock()
	for _, u := range urls {
		key := canonical.URL(u)
		if key == "" {
			continue
		}
		if _, ok := t.confirmed[key]; ok {
			continue
		}
		t.confirmed[key] = struct{}{}
		delete(t.pending, key)
		added = append(added, key)
	}
	t.mu.Unlock()

	if len(added) == 0 {
		return 0, nil
	}
	if err := t.store.Add(ctx, added...); err != nil {
		return len(added), fmt.Errorf("failed to persist reconciled urls: %w", err)
	}
	log.Printf("Reconciled %d confirmed urls from backend", len(added))
	return len(added), nil
}

// Clear forgets every pending and confirmed URL
func (t *Tracker) Clear(ctx context.Context) error {
	t.mu.Lock()
	t.pending = make(map[string]struct{})
	t.confirmed = make(map[string]struct{})
	t.mu.Unlock()

	if err := t.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear confirmed store: %w", err)
	}
	return nil
}

// Counts returns the number of pending and confirmed URLs
func (t *Tracker) Counts() (pending, confirmed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending), len(t.confirmed)
}
