package upload

import (
	"fmt"

	"github.com/gostones/cloudattach/internal/lock"
	"github.com/gostones/cloudattach/internal/notice"
)

// Stats is a snapshot of batch counters.
type Stats struct {
	Enqueued       int
	EnqueuedBytes  int64
	Succeeded      int
	Failed         int
	Skipped        int
	ConfirmedBytes int64
	Percent        int
}

// Tracker aggregates the progress of one batch. Every mutation is
// serialized in arrival order and refreshes a single progress notice.
type Tracker struct {
	mu       lock.Fair
	stats    Stats
	notifier notice.Notifier
	progress notice.Progress
}

func NewTracker(n notice.Notifier) *Tracker {
	return &Tracker{notifier: n}
}

// Enqueue adds files totalling size bytes to the batch.
func (t *Tracker) Enqueue(files int, size int64) {
	t.mutate(func(s *Stats) {
		s.Enqueued += files
		s.EnqueuedBytes += size
	})
}

func (t *Tracker) Succeed() {
	t.mutate(func(s *Stats) { s.Succeeded++ })
}

func (t *Tracker) Fail() {
	t.mutate(func(s *Stats) { s.Failed++ })
}

func (t *Tracker) Skip() {
	t.mutate(func(s *Stats) { s.Skipped++ })
}

// Confirm records n more bytes durably received by storage.
func (t *Tracker) Confirm(n int64) {
	t.mutate(func(s *Stats) { s.ConfirmedBytes += n })
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tracker) Percent() int {
	return t.Stats().Percent
}

// Finish hides the progress notice whatever the counters say.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hide()
}

func (t *Tracker) mutate(fn func(*Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
	t.refresh()
}

// refresh recomputes the percentage and updates the notice. Skipped files do
// not count as finished; their bytes are confirmed by the uploader instead.
func (t *Tracker) refresh() {
	s := &t.stats
	done := s.Succeeded+s.Failed == s.Enqueued

	percent := 0
	if s.EnqueuedBytes > 0 {
		percent = int(s.ConfirmedBytes * 100 / s.EnqueuedBytes)
	}
	if done || percent > 100 {
		percent = 100
	}
	s.Percent = percent

	if done {
		t.hide()
		return
	}
	msg := fmt.Sprintf("Uploading %d of %d files... [%d%% done][%d files skipped]", s.Succeeded, s.Enqueued, percent, s.Skipped)
	if t.progress != nil {
		t.progress.Update(percent, msg)
		return
	}
	if t.notifier != nil {
		t.progress = t.notifier.Progress(msg)
		t.progress.Update(percent, msg)
	}
}

func (t *Tracker) hide() {
	if t.progress != nil {
		t.progress.Hide()
		t.progress = nil
	}
}
