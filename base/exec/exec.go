// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Adapted in part from: https://github.com/magefile/mage
// Copyright presumably by Nate Finch, primary contributor
// Apache License, Version 2.0, January 2004

// Package exec runs external commands with expanded arguments,
// configurable environment, and captured output.
package exec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Config contains the configuration information that
// controls the behavior of exec.
type Config struct {

	// Dir is the directory commands run in; empty means the current directory.
	Dir string

	// Env contains environment variables set for commands, overriding
	// (and adding to) the current environment. They are also used to
	// expand $FOO references in the command and its arguments.
	Env map[string]string

	// Stdout is the writer to write the standard output of called commands to.
	// It can be set to nil to disable the writing of the standard output.
	Stdout io.Writer

	// Stderr is the writer to write the standard error of called commands to.
	// It can be set to nil to disable the writing of the standard error.
	Stderr io.Writer

	// Stdin is the standard input of called commands.
	Stdin io.Reader
}

// expand returns s with $FOO references replaced by values
// from [Config.Env] or the process environment.
func (c *Config) expand(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := c.Env[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
}

// Exec executes the command, piping its stdout and stderr to the
// writers in the config. If the command fails, it will return an error
// with the command line. cmd and args may include references
// to environment variables in $FOO format, in which case these will be
// expanded before the command is run.
//
// Ran reports if the command ran (rather than was not found or not executable).
// If err == nil, ran is always true.
func (c *Config) Exec(cmd string, args ...string) (ran bool, err error) {
	cmd = c.expand(cmd)
	xargs := make([]string, len(args))
	for i := range args {
		xargs[i] = c.expand(args[i])
	}
	ran, code, err := c.run(cmd, xargs...)
	if err == nil {
		return true, nil
	}
	return ran, &Error{Command: cmd + " " + strings.Join(xargs, " "), ExitCode: code, Ran: ran, Err: err}
}

func (c *Config) run(cmd string, args ...string) (ran bool, code int, err error) {
	cm := exec.Command(cmd, args...)
	cm.Env = os.Environ()
	for k, v := range c.Env {
		cm.Env = append(cm.Env, k+"="+v)
	}
	cm.Stderr = c.Stderr
	cm.Stdout = c.Stdout
	cm.Stdin = c.Stdin
	cm.Dir = c.Dir
	slog.Debug("exec: running", "dir", cm.Dir, "cmd", cm.String())
	err = cm.Run()
	return CmdRan(err), ExitStatus(err), err
}

// Error is returned when a command fails to run or exits non-zero.
type Error struct {
	Command  string
	ExitCode int

	// Ran is false when the command could not be started.
	Ran bool

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to run %q: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SplitCommand splits a shell-style command line into the
// command and its arguments, honoring quotes and escapes.
func SplitCommand(line string) (string, []string, error) {
	words, err := shellwords.Parse(line)
	if err != nil {
		return "", nil, fmt.Errorf("exec: parsing command %q: %w", line, err)
	}
	if len(words) == 0 {
		return "", nil, fmt.Errorf("exec: empty command %q", line)
	}
	return words[0], words[1:], nil
}

// CmdRan examines the error to determine if it was generated as a result of a
// command running via os/exec.Command.  If the error is nil, or the command ran
// (even if it exited with a non-zero exit code), CmdRan reports true.  If the
// error is an unrecognized type, or it is an error from exec.Command that says
// the command failed to run (usually due to the command not existing or not
// being executable), it reports false.
func CmdRan(err error) bool {
	if err == nil {
		return true
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.Exited()
	}
	return false
}

type exitStatus interface {
	ExitStatus() int
}

// ExitStatus returns the exit status of the error if it is an exec.ExitError
// or if it implements ExitStatus() int.
// 0 if it is nil or 1 if it is a different error.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(exitStatus); ok {
		return e.ExitStatus()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ex, ok := ee.Sys().(exitStatus); ok {
			return ex.ExitStatus()
		}
	}
	return 1
}
