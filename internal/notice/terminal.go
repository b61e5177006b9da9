package notice

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// Terminal prints notices as lines and renders progress as a bar.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) Notify(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, msg)
}

func (t *Terminal) Error(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, "error:", msg)
}

func (t *Terminal) Progress(msg string) Progress {
	p := mpb.New(mpb.WithOutput(t.out), mpb.WithWidth(40))
	tp := &terminalProgress{p: p}
	tp.msg.Store(msg)
	tp.bar = p.AddBar(100,
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				return tp.msg.Load().(string)
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return tp
}

type terminalProgress struct {
	p    *mpb.Progress
	bar  *mpb.Bar
	msg  atomic.Value
	once sync.Once
}

func (tp *terminalProgress) Update(percent int, msg string) {
	tp.msg.Store(msg)
	tp.bar.SetCurrent(int64(percent))
}

func (tp *terminalProgress) Hide() {
	tp.once.Do(func() {
		tp.bar.Abort(false)
		tp.p.Wait()
	})
}
