// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynlib

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.so"))
	require.Error(t, err)
	if errors.Is(err, ErrUnsupported) {
		t.Skip("dynamic loading unsupported in this build")
	}
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Contains(t, oe.Path, "nope.so")
	assert.NotEmpty(t, oe.Msg)
}

func TestOpenErrorsConcurrent(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "nope.so")); errors.Is(err, ErrUnsupported) {
		t.Skip("dynamic loading unsupported in this build")
	}
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				name := fmt.Sprintf("missing-%d-%d.so", i, j)
				_, err := Open(filepath.Join(dir, name))
				var oe *OpenError
				if assert.ErrorAs(t, err, &oe) {
					assert.Contains(t, oe.Msg, name)
				}
			}
		}()
	}
	wg.Wait()
}

func TestErrorMessages(t *testing.T) {
	se := &SymbolError{Path: "a.so", Name: "create", Msg: "undefined symbol"}
	assert.Equal(t, "dynlib: symbol create in a.so: undefined symbol", se.Error())
	oe := &OpenError{Path: "a.so", Msg: noMessage}
	assert.Contains(t, oe.Error(), "a.so")
}

func TestSymbol(t *testing.T) {
	lb, err := Open("libc.so.6")
	if err != nil {
		t.Skip("libc.so.6 not available:", err)
	}
	defer lb.Close()

	p, err := lb.Symbol("strlen")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = lb.Symbol("particlesim_no_such_symbol")
	var se *SymbolError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "particlesim_no_such_symbol", se.Name)

	require.NoError(t, lb.Close())
	_, err = lb.Symbol("strlen")
	assert.Error(t, err)
}
