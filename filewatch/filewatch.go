// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filewatch provides a non-blocking file modification notifier
// with stable identifiers. An [ID] returned by [Watchlist.Add] survives
// editors that save atomically (write a temporary file, unlink the
// original and rename the temporary file over it): the kernel watch is
// transparently re-registered on the new inode while the ID stays the same.
package filewatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"
)

// ID is an opaque handle for one watched file. IDs are issued in
// increasing order starting at 1 and are never reused by a [Watchlist].
type ID uint32

// state is the registration state of a watched path.
type state int32

const (
	// live means the kernel watch is attached to the current file.
	live state = iota

	// pending means the file was deleted or renamed away and the
	// kernel watch must be registered again.
	pending

	// dormant means re-registration failed; further edits are missed
	// until the entry is removed.
	dormant
)

// entry is one watched path.
type entry struct {
	path  string
	state state

	// retries is the number of failed re-registration attempts.
	retries int
}

// maxRewatchRetries is how many polls a pending entry may fail to
// re-register before it becomes dormant. A retry covers the window
// between an editor's unlink and its rename.
const maxRewatchRetries = 1

// eventBuffer is the capacity of the fsnotify event channel.
const eventBuffer = 256

// Watchlist is a set of watched files. It is not safe for concurrent
// use; it is owned by the thread that calls [Watchlist.Poll].
type Watchlist struct {
	watcher *fsnotify.Watcher

	entries map[ID]*entry
	byPath  map[string]ID
	lastID  ID

	// queue holds changed IDs in first-seen order, deduplicated by queued.
	queue  []ID
	queued map[ID]bool

	// rewatch holds IDs whose kernel watch must be registered again.
	rewatch []ID
}

// New returns a new empty [Watchlist], allocating the kernel notification
// instance.
func New() (*Watchlist, error) {
	w, err := fsnotify.NewBufferedWatcher(eventBuffer)
	if err != nil {
		return nil, fmt.Errorf("filewatch.New: %w", classify(err))
	}
	return &Watchlist{
		watcher: w,
		entries: make(map[ID]*entry),
		byPath:  make(map[string]ID),
		queued:  make(map[ID]bool),
	}, nil
}

// Add begins watching the regular file at the given path and returns
// its [ID]. Adding a path that is already watched returns the existing ID.
// It fails with [ErrPathNotFound], [ErrPermissionDenied],
// [ErrNotRegularFile] or [ErrSystemLimitReached].
func (wl *Watchlist) Add(path string) (ID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("filewatch.Add %q: %w", path, err)
	}
	if id, ok := wl.byPath[abs]; ok {
		return id, nil
	}
	st, err := os.Stat(abs)
	if err != nil {
		return 0, fmt.Errorf("filewatch.Add %q: %w", abs, classify(err))
	}
	if !st.Mode().IsRegular() {
		return 0, fmt.Errorf("filewatch.Add %q: %w", abs, ErrNotRegularFile)
	}
	if err := wl.watcher.Add(abs); err != nil {
		return 0, fmt.Errorf("filewatch.Add %q: %w", abs, classify(err))
	}
	wl.lastID++
	id := wl.lastID
	wl.entries[id] = &entry{path: abs}
	wl.byPath[abs] = id
	slog.Debug("filewatch: added", "id", id, "path", abs)
	return id, nil
}

// Remove stops watching the file with the given [ID]. The ID is
// invalidated permanently and never appears in [Watchlist.Poll] output.
func (wl *Watchlist) Remove(id ID) error {
	e, ok := wl.entries[id]
	if !ok {
		return fmt.Errorf("filewatch.Remove %d: %w", id, ErrUnknownID)
	}
	if e.state == live {
		err := wl.watcher.Remove(e.path)
		if err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("filewatch.Remove %q: %w", e.path, classify(err))
		}
	}
	delete(wl.entries, id)
	delete(wl.byPath, e.path)
	if wl.queued[id] {
		delete(wl.queued, id)
		wl.queue = slices.DeleteFunc(wl.queue, func(q ID) bool { return q == id })
	}
	wl.rewatch = slices.DeleteFunc(wl.rewatch, func(q ID) bool { return q == id })
	return nil
}

// Path returns the absolute path watched by the given [ID].
func (wl *Watchlist) Path(id ID) (string, bool) {
	e, ok := wl.entries[id]
	if !ok {
		return "", false
	}
	return e.path, true
}

// Dormant returns whether the given [ID] lost its kernel registration
// after a failed re-watch, so that edits to it are no longer observed.
func (wl *Watchlist) Dormant(id ID) bool {
	e, ok := wl.entries[id]
	return ok && e.state == dormant
}

// IDs returns all live IDs in increasing order.
func (wl *Watchlist) IDs() []ID {
	ids := make([]ID, 0, len(wl.entries))
	for id := range wl.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of watched files.
func (wl *Watchlist) Len() int {
	return len(wl.entries)
}

// Poll copies up to len(out) IDs of files modified since the last call
// into out and returns how many it copied. It never blocks. Multiple edits
// of one file are reported once; IDs that do not fit in out are kept for
// the next call. Poll drains only the notifications that have already
// arrived, so a burst of edits still being delivered by the kernel may be
// reported over several consecutive calls. A queue overflow reports every
// watched ID once. A kernel notification error is returned as is and
// should be treated as fatal.
func (wl *Watchlist) Poll(out []ID) (int, error) {
	wl.registerPending()
	overflow := false
drain:
	for {
		select {
		case ev, ok := <-wl.watcher.Events:
			if !ok {
				return 0, fmt.Errorf("filewatch.Poll: %w", fsnotify.ErrClosed)
			}
			wl.handle(ev)
		case err, ok := <-wl.watcher.Errors:
			if !ok {
				return 0, fmt.Errorf("filewatch.Poll: %w", fsnotify.ErrClosed)
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				overflow = true
				continue
			}
			return 0, fmt.Errorf("filewatch.Poll: %w", err)
		default:
			break drain
		}
	}
	if overflow {
		slog.Warn("filewatch: event queue overflow, reporting all files as changed", "files", len(wl.entries))
		for _, id := range wl.IDs() {
			wl.push(id)
		}
	}
	wl.registerPending()

	n := copy(out, wl.queue)
	for _, id := range wl.queue[:n] {
		delete(wl.queued, id)
	}
	wl.queue = slices.Delete(wl.queue, 0, n)
	return n, nil
}

// handle records one kernel event.
func (wl *Watchlist) handle(ev fsnotify.Event) {
	id, ok := wl.byPath[filepath.Clean(ev.Name)]
	if !ok {
		return
	}
	e := wl.entries[id]
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		wl.push(id)
		if e.state == live {
			e.state = pending
			e.retries = 0
			wl.rewatch = append(wl.rewatch, id)
		}
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
		wl.push(id)
	}
	slog.Debug("filewatch: event", "id", id, "op", ev.Op.String())
}

// push queues an ID once.
func (wl *Watchlist) push(id ID) {
	if wl.queued[id] {
		return
	}
	wl.queued[id] = true
	wl.queue = append(wl.queue, id)
}

// registerPending re-attaches kernel watches of replaced files.
// An entry that cannot be registered is retried on the following poll
// and then becomes dormant. An entry whose registration only succeeds on
// a retry is reported again, because its contents changed in between.
func (wl *Watchlist) registerPending() {
	if len(wl.rewatch) == 0 {
		return
	}
	keep := wl.rewatch[:0]
	for _, id := range wl.rewatch {
		e, ok := wl.entries[id]
		if !ok || e.state != pending {
			continue
		}
		// the stale registration may still be known to fsnotify
		_ = wl.watcher.Remove(e.path)
		err := wl.watcher.Add(e.path)
		if err == nil {
			e.state = live
			if e.retries > 0 {
				wl.push(id)
			}
			slog.Debug("filewatch: re-registered", "id", id, "path", e.path)
			continue
		}
		if e.retries < maxRewatchRetries {
			e.retries++
			keep = append(keep, id)
			continue
		}
		e.state = dormant
		slog.Warn("filewatch: file could not be watched again and is now dormant", "id", id, "path", e.path, "err", err)
	}
	wl.rewatch = keep
}

// Close releases the kernel notification instance and all registrations.
func (wl *Watchlist) Close() error {
	if wl.watcher == nil {
		return nil
	}
	err := wl.watcher.Close()
	wl.watcher = nil
	wl.entries = nil
	wl.byPath = nil
	wl.queue = nil
	wl.queued = nil
	wl.rewatch = nil
	return err
}
