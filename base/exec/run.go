// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// Run runs the given command using the given configuration information and arguments.
func (c *Config) Run(cmd string, args ...string) error {
	_, err := c.Exec(cmd, args...)
	return err
}

// Output runs the command and returns the text from stdout.
func (c *Config) Output(cmd string, args ...string) (string, error) {
	oldStdout := c.Stdout
	// need to use buf to capture output
	buf := &bytes.Buffer{}
	c.Stdout = buf
	_, err := c.Exec(cmd, args...)
	c.Stdout = oldStdout
	if c.Stdout != nil {
		c.Stdout.Write(buf.Bytes())
	}
	return strings.TrimSuffix(buf.String(), "\n"), err
}

// Result is the captured outcome of [Config.Capture].
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Capture runs the command line (split with [SplitCommand]) to completion,
// capturing its stdout and stderr while still copying them to the
// writers in the config. The returned Result is always non-nil when the
// line parses, also when the command fails.
func (c *Config) Capture(line string) (*Result, error) {
	cmd, args, err := SplitCommand(line)
	if err != nil {
		return nil, err
	}
	var out, errb bytes.Buffer
	cc := *c
	cc.Stdout = tee(&out, c.Stdout)
	cc.Stderr = tee(&errb, c.Stderr)
	start := time.Now()
	_, err = cc.Exec(cmd, args...)
	res := &Result{
		Stdout:   out.String(),
		Stderr:   errb.String(),
		ExitCode: ExitStatus(err),
		Duration: time.Since(start),
	}
	return res, err
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// Major returns a [Config] that copies command output to
// the given writers, typically os.Stdout and os.Stderr.
func Major(stdout, stderr io.Writer) *Config {
	return &Config{Stdout: stdout, Stderr: stderr}
}
