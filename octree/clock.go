package octree

import (
	"sync/atomic"
	"time"
)

// clock hands out strictly increasing timestamps in microseconds, so that
// two changes never share a last changed time.
type clock struct {
	last atomic.Uint64
}

func (c *clock) now() uint64 {
	for {
		last := c.last.Load()
		now := uint64(time.Now().UnixMicro())
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}
