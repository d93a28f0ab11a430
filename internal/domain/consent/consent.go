// Package consent tracks stop/pause/resume signals per actor.
// A distinguished anchor set may override everyone else: while an
// anchor-issued stop is active, every action in the process is denied.
package consent

import (
	"sync"
	"time"
)

// Kind is a consent signal kind.
type Kind string

const (
	// KindStop withdraws consent; actions are denied.
	KindStop Kind = "stop"
	// KindPause temporarily withdraws consent; treated as stop until resumed.
	KindPause Kind = "pause"
	// KindResume restores consent for the signalling actor.
	KindResume Kind = "resume"
)

// ParseKind validates a signal kind string.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindStop, KindPause, KindResume:
		return Kind(s), true
	}
	return "", false
}

// Signal is one recorded consent signal.
type Signal struct {
	// Actor is the signalling identity.
	Actor string
	// Kind is stop, pause, or resume.
	Kind Kind
	// At is the signal timestamp.
	At time.Time
}

// Status is the outcome of a consent check.
type Status struct {
	// Blocked is true when the actor may not act.
	Blocked bool
	// AnchorIssued is true when the blocking stop came from an anchor.
	AnchorIssued bool
	// Source is the actor whose signal caused the block.
	Source string
}

// Store holds the latest consent signal per actor. Signals are ordered
// by timestamp; equal-timestamp signals from the same actor are broken
// lexicographically on kind, which keeps stop dominant over resume.
type Store struct {
	mu      sync.RWMutex
	latest  map[string]Signal
	anchors map[string]bool
}

// NewStore creates a consent store with the given anchor actor ids.
func NewStore(anchorActors []string) *Store {
	anchors := make(map[string]bool, len(anchorActors))
	for _, a := range anchorActors {
		anchors[a] = true
	}
	return &Store{
		latest:  make(map[string]Signal),
		anchors: anchors,
	}
}

// Record stores a signal if it supersedes the actor's current one.
// A signal supersedes when it is strictly later, or shares the
// timestamp and has the lexicographically greater kind.
func (s *Store) Record(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.latest[sig.Actor]
	if ok {
		if sig.At.Before(cur.At) {
			return
		}
		if sig.At.Equal(cur.At) && sig.Kind <= cur.Kind {
			return
		}
	}
	s.latest[sig.Actor] = sig
}

// Check evaluates whether actor may act right now.
// Anchor stops dominate: any active anchor stop blocks every actor,
// and a non-anchor resume cannot clear it.
func (s *Store) Check(actor string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for anchor := range s.anchors {
		if sig, ok := s.latest[anchor]; ok && sig.Kind != KindResume {
			return Status{Blocked: true, AnchorIssued: true, Source: anchor}
		}
	}

	if sig, ok := s.latest[actor]; ok && sig.Kind != KindResume {
		return Status{Blocked: true, Source: actor}
	}

	return Status{}
}

// IsAnchor reports whether actor is in the anchor set.
func (s *Store) IsAnchor(actor string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anchors[actor]
}

// Latest returns the current signal for actor, if any.
func (s *Store) Latest(actor string) (Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.latest[actor]
	return sig, ok
}
