// Package notice shows short user facing messages and a single in-place
// progress indicator for a running batch.
package notice

import (
	"log/slog"
	"sync"
)

// Notifier delivers user facing messages.
type Notifier interface {
	// Notify shows a transient informational message.
	Notify(msg string)
	// Error shows a failure. Errors are never suppressed.
	Error(msg string)
	// Progress shows a long lived indicator that is updated in place.
	Progress(msg string) Progress
}

type Progress interface {
	Update(percent int, msg string)
	Hide()
}

// Log writes notices to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l Log) Notify(msg string) {
	l.logger().Info(msg)
}

func (l Log) Error(msg string) {
	l.logger().Error(msg)
}

func (l Log) Progress(msg string) Progress {
	l.logger().Info(msg, "percent", 0)
	return &logProgress{log: l.logger()}
}

type logProgress struct {
	log  *slog.Logger
	once sync.Once
}

func (p *logProgress) Update(percent int, msg string) {
	p.log.Info(msg, "percent", percent)
}

func (p *logProgress) Hide() {
	p.once.Do(func() { p.log.Debug("progress done") })
}

// Quiet drops informational notices and progress unless enabled is set.
// Errors always reach n.
func Quiet(n Notifier, enabled bool) Notifier {
	if enabled {
		return n
	}
	return quiet{n}
}

type quiet struct {
	n Notifier
}

func (q quiet) Notify(string) {}

func (q quiet) Error(msg string) {
	q.n.Error(msg)
}

func (q quiet) Progress(string) Progress {
	return Discard
}

// Discard is a progress indicator that shows nothing.
var Discard Progress = discard{}

type discard struct{}

func (discard) Update(int, string) {}
func (discard) Hide()              {}
