package notice

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	notices []string
	errors  []string
	bars    int
}

func (r *recorder) Notify(msg string) { r.notices = append(r.notices, msg) }
func (r *recorder) Error(msg string)  { r.errors = append(r.errors, msg) }
func (r *recorder) Progress(string) Progress {
	r.bars++
	return Discard
}

func TestQuiet(t *testing.T) {
	r := &recorder{}
	q := Quiet(r, false)
	q.Notify("retrying")
	q.Error("failed")
	q.Progress("uploading").Update(10, "uploading")

	assert.Empty(t, r.notices)
	assert.Equal(t, []string{"failed"}, r.errors)
	assert.Zero(t, r.bars)

	assert.Same(t, r, Quiet(r, true))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Notify("hello")
	p := l.Progress("Uploading 0 of 2 files")
	p.Update(50, "Uploading 1 of 2 files")
	p.Hide()
	p.Hide()
	l.Error("broken")

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, `msg="Uploading 1 of 2 files" percent=50`)
	assert.Contains(t, out, "level=ERROR msg=broken")
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	term.Notify("one")
	term.Error("two")
	assert.Equal(t, "one\nerror: two\n", buf.String())
}
