// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package submit records GPU queue submissions of recent frames and
// the semaphores that order them.
package submit

import (
	"errors"
	"fmt"
	"slices"
)

// ID identifies a submission. IDs start at 1 and are never reused.
type ID uint64

// Semaphore is an opaque binary semaphore handle. The zero Semaphore is null.
type Semaphore uintptr

var (
	// ErrUnknown is returned for an id that was never added.
	ErrUnknown = errors.New("submit: unknown submission")

	// ErrAlreadyWaited is returned when a second submission waits on
	// the semaphore of a submission; binary semaphores are consumed
	// by a single wait.
	ErrAlreadyWaited = errors.New("submit: semaphore already waited on")
)

// Submission is one queue submission.
type Submission struct {
	ID    ID
	Frame uint64
	Name  string

	// Waits are the submissions this one waits on.
	Waits []ID

	// Signal is signaled when the submission completes, or null.
	Signal Semaphore

	waited bool
}

// Graph holds the submissions of the frames that may be in flight.
// It is owned by the thread that submits frames.
type Graph struct {
	subs map[ID]*Submission
	last ID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{subs: map[ID]*Submission{}}
}

// Add records a submission at frame that waits on the given
// submissions, and returns its id. Waits on retired submissions are
// already satisfied and dropped.
func (g *Graph) Add(frame uint64, name string, signal Semaphore, waits ...ID) (ID, error) {
	var kept []ID
	for _, w := range waits {
		s, ok := g.subs[w]
		if !ok {
			if w == 0 || w > g.last {
				return 0, fmt.Errorf("%w: %d", ErrUnknown, w)
			}
			continue
		}
		if s.Signal != 0 && s.waited {
			return 0, fmt.Errorf("%w: %s (%d)", ErrAlreadyWaited, s.Name, s.ID)
		}
		kept = append(kept, w)
	}
	for _, w := range kept {
		g.subs[w].waited = true
	}
	g.last++
	g.subs[g.last] = &Submission{ID: g.last, Frame: frame, Name: name, Waits: kept, Signal: signal}
	return g.last, nil
}

// Wait returns the semaphores a submission waiting on ids must wait on.
// Retired submissions and submissions without a semaphore contribute none.
func (g *Graph) Wait(ids ...ID) []Semaphore {
	var sems []Semaphore
	for _, id := range ids {
		if s, ok := g.subs[id]; ok && s.Signal != 0 && !slices.Contains(sems, s.Signal) {
			sems = append(sems, s.Signal)
		}
	}
	return sems
}

// Get returns the submission with given id, if it is not retired.
func (g *Graph) Get(id ID) (*Submission, bool) {
	s, ok := g.subs[id]
	return s, ok
}

// Retire drops the submissions of frames at or before frame,
// and returns the number dropped.
func (g *Graph) Retire(frame uint64) int {
	n := 0
	for id, s := range g.subs {
		if s.Frame <= frame {
			delete(g.subs, id)
			n++
		}
	}
	return n
}

// Len returns the number of submissions not yet retired.
func (g *Graph) Len() int {
	return len(g.subs)
}

// Frame returns the ids of the submissions at frame, in submission order.
func (g *Graph) Frame(frame uint64) []ID {
	var ids []ID
	for id, s := range g.subs {
		if s.Frame == frame {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
