// Package rss samples the resident set size of a child process.
package rss

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/lspbench/lspbench/src/lspbench/internal/executor"
	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Sampler reports the resident set size of a process in kilobytes.
type Sampler interface {
	// Sample returns the RSS of pid in kilobytes, or 0 when the probe fails
	// (treated as unmeasured).
	Sample(pid int) int64
}

type sampler struct {
	exec executor.Executor
}

// New creates a Sampler backed by the host's per-process probe.
func New(exec executor.Executor) Sampler {
	return &sampler{exec: exec}
}

// Sample shells out to `ps -o rss= -p <pid>`, the portable POSIX probe.
func (s *sampler) Sample(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	cmd := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid))
	stdout, _, _, err := s.exec.Run(cmd)
	if err != nil {
		return 0
	}
	kb, err := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64)
	if err != nil || kb < 0 {
		return 0
	}
	return kb
}
