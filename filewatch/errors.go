// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filewatch

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

var (
	// ErrPathNotFound is returned when the path to watch does not exist.
	ErrPathNotFound = errors.New("path not found")

	// ErrPermissionDenied is returned when the path cannot be read or watched.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSystemLimitReached is returned when the kernel refuses another
	// watch or notification instance (see /proc/sys/fs/inotify).
	ErrSystemLimitReached = errors.New("system limit reached")

	// ErrNotRegularFile is returned when the path is a directory or special file.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrUnknownID is returned for an ID that was never issued or was removed.
	ErrUnknownID = errors.New("unknown watch id")
)

// classify maps operating system errors onto the package error kinds,
// keeping the original error in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errors.Join(ErrPathNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return errors.Join(ErrPermissionDenied, err)
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EMFILE),
		errors.Is(err, unix.ENFILE), errors.Is(err, unix.ENOMEM):
		return errors.Join(ErrSystemLimitReached, err)
	}
	return err
}
