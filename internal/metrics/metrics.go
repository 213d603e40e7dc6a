// Package metrics builds the process-wide tally scope.
//
// There is no remote sink: the root scope reports into the structured log at
// the configured interval, which is enough to watch sweep throughput.
package metrics

import (
	"io"
	"strings"
	"time"

	"github.com/uber-go/tally/v4"

	logx "taskcycle/pkg/logx"
)

type Config struct {
	Enabled  bool
	Prefix   string
	Interval time.Duration
}

// New returns the root scope and a closer that flushes it. A disabled config
// yields tally.NoopScope.
func New(cfg Config, log logx.Logger) (tally.Scope, io.Closer) {
	if !cfg.Enabled {
		return tally.NoopScope, nopCloser{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "taskcycle"
	}
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:    prefix,
		Separator: ".",
		Reporter:  NewLogReporter(log),
	}, interval)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
