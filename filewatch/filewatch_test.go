// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filewatch

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// atomicSave replaces path the way editors do: write a temporary file,
// unlink the original, rename the temporary file into place.
func atomicSave(t *testing.T, path, contents string) {
	t.Helper()
	tmp := path + ".new"
	require.NoError(t, os.WriteFile(tmp, []byte(contents), 0o644))
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Rename(tmp, path))
}

// collect polls until at least one ID is reported, then keeps polling for
// a short settle period and returns everything that was reported.
func collect(t *testing.T, wl *Watchlist) []ID {
	t.Helper()
	// let the kernel events of the preceding edits reach the channel
	time.Sleep(100 * time.Millisecond)
	var got []ID
	buf := make([]ID, 16)
	require.Eventually(t, func() bool {
		n, err := wl.Poll(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		return len(got) > 0
	}, 3*time.Second, 5*time.Millisecond)
	settle := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(settle) {
		n, err := wl.Poll(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		time.Sleep(5 * time.Millisecond)
	}
	return got
}

func newWatchlist(t *testing.T) *Watchlist {
	t.Helper()
	wl, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { wl.Close() })
	return wl
}

func TestAtomicSave(t *testing.T) {
	wl := newWatchlist(t)
	path := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(path, []byte("A"), 0o644))

	id, err := wl.Add(path)
	require.NoError(t, err)
	assert.Equal(t, ID(1), id)

	atomicSave(t, path, "B")
	assert.Equal(t, []ID{id}, collect(t, wl))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "B", string(b))
	assert.False(t, wl.Dormant(id))

	atomicSave(t, path, "C")
	assert.Equal(t, []ID{id}, collect(t, wl))

	// an in-place edit is still observed on the re-registered watch
	require.NoError(t, os.WriteFile(path, []byte("D"), 0o644))
	assert.Equal(t, []ID{id}, collect(t, wl))
}

func TestCoalesce(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))
	ida, err := wl.Add(a)
	require.NoError(t, err)
	idb, err := wl.Add(b)
	require.NoError(t, err)

	f, err := os.OpenFile(a, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err = f.WriteString("edit\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	got := collect(t, wl)
	assert.Equal(t, []ID{ida}, got)
	assert.NotContains(t, got, idb)
}

func TestPollDrainsBacklog(t *testing.T) {
	wl := newWatchlist(t)
	p := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	id, err := wl.Add(p)
	require.NoError(t, err)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err = f.WriteString("edit\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	time.Sleep(200 * time.Millisecond)

	buf := make([]ID, 4)
	n, err := wl.Poll(buf)
	require.NoError(t, err)
	assert.Equal(t, []ID{id}, buf[:n])
	n, err = wl.Poll(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestOverflowReportsAll delivers a queue overflow the way the fsnotify
// reader does and checks that every live ID is reported exactly once,
// including files that were never edited.
func TestOverflowReportsAll(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	var ids []ID
	for _, name := range []string{"a", "b", "c", "d"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		id, err := wl.Add(p)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("1"), 0o644))
	collect(t, wl)
	require.NoError(t, wl.Remove(ids[3]))

	sent := make(chan struct{})
	go func() {
		wl.watcher.Errors <- fsnotify.ErrEventOverflow
		close(sent)
	}()
	buf := make([]ID, 16)
	var got []ID
	require.Eventually(t, func() bool {
		n, err := wl.Poll(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		return len(got) > 0
	}, 3*time.Second, 5*time.Millisecond)
	<-sent
	assert.ElementsMatch(t, ids[:3], got)

	n, err := wl.Poll(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPollPartial(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	var ids []ID
	for _, name := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		id, err := wl.Add(p)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	time.Sleep(100 * time.Millisecond)
	seen := map[ID]int{}
	one := make([]ID, 1)
	require.Eventually(t, func() bool {
		n, err := wl.Poll(one)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 1)
		if n == 1 {
			seen[one[0]]++
		}
		return len(seen) == 3
	}, 3*time.Second, 5*time.Millisecond)
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
}

func TestAddErrors(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()

	_, err := wl.Add(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = wl.Add(dir)
	assert.ErrorIs(t, err, ErrNotRegularFile)

	assert.ErrorIs(t, wl.Remove(42), ErrUnknownID)
	assert.Equal(t, 0, wl.Len())
}

func TestAddSamePath(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	id1, err := wl.Add(p)
	require.NoError(t, err)
	id2, err := wl.Add(filepath.Join(dir, ".", "f"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, wl.Len())
}

func TestRemovedNeverReported(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))
	ida, err := wl.Add(a)
	require.NoError(t, err)
	idb, err := wl.Add(b)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(a, []byte("1"), 0o644))
	require.NoError(t, wl.Remove(ida))
	require.NoError(t, os.WriteFile(a, []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("1"), 0o644))

	got := collect(t, wl)
	assert.Equal(t, []ID{idb}, got)
	_, ok := wl.Path(ida)
	assert.False(t, ok)
}

func TestDormantAfterMove(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	id, err := wl.Add(p)
	require.NoError(t, err)

	require.NoError(t, os.Rename(p, filepath.Join(dir, "g")))
	assert.Equal(t, []ID{id}, collect(t, wl))
	// one more poll exhausts the retry
	_, err = wl.Poll(make([]ID, 4))
	require.NoError(t, err)
	assert.True(t, wl.Dormant(id))

	require.NoError(t, wl.Remove(id))
	assert.Equal(t, 0, wl.Len())
}

// TestAddRemoveSequence checks that live IDs map one to one onto watched
// paths for random add/remove sequences, and that issued IDs increase.
func TestAddRemoveSequence(t *testing.T) {
	wl := newWatchlist(t)
	dir := t.TempDir()
	const nfiles = 8
	paths := make([]string, nfiles)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.WriteFile(paths[i], nil, 0o644))
	}

	rnd := rand.New(rand.NewSource(1))
	model := map[string]ID{}
	var last ID
	for step := 0; step < 300; step++ {
		p := paths[rnd.Intn(nfiles)]
		if id, ok := model[p]; ok && rnd.Intn(2) == 0 {
			require.NoError(t, wl.Remove(id))
			delete(model, p)
		} else {
			id, err := wl.Add(p)
			require.NoError(t, err)
			if prev, ok := model[p]; ok {
				assert.Equal(t, prev, id)
			} else {
				assert.Greater(t, id, last)
				last = id
				model[p] = id
			}
		}

		require.Equal(t, len(model), wl.Len())
		seen := map[string]bool{}
		for _, id := range wl.IDs() {
			path, ok := wl.Path(id)
			require.True(t, ok)
			require.False(t, seen[path], "two ids for %s", path)
			seen[path] = true
			require.Equal(t, model[path], id)
		}
	}
}
