package internal

import (
	"sync/atomic"
)

// Counter is a byte counter safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

func (r *Counter) Increment(n int64) int64 {
	return r.n.Add(n)
}

func (r *Counter) Get() int64 {
	return r.n.Load()
}
