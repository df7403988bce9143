package models

import (
	"context"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/time/rate"
)

// DefaultOutboundQueueSize is the number of packets an Outbound queue holds
// by default.
const DefaultOutboundQueueSize = 256

// ErrTypeOutboundClosed is the type of the error returned by Pop once the
// queue is closed and drained.
const ErrTypeOutboundClosed = "outbound_closed"

// Outbound is the bounded queue of packets waiting to be written to a
// client. When the queue is full the oldest packet is dropped. Pop paces the
// packets with a rate limiter.
type Outbound struct {
	limiter *rate.Limiter

	mutex   sync.Mutex
	packets [][]byte
	head    int
	count   int
	dropped int
	closed  bool
	notify  chan struct{}
}

// NewOutbound returns a queue holding up to size packets and letting at most
// packetsPerSecond packets out. A zero or negative rate is unlimited.
func NewOutbound(size, packetsPerSecond int) *Outbound {
	if size <= 0 {
		size = DefaultOutboundQueueSize
	}

	return &Outbound{
		limiter: rate.NewLimiter(limit(packetsPerSecond)),
		packets: make([][]byte, size),
		notify:  make(chan struct{}, 1),
	}
}

func limit(packetsPerSecond int) (rate.Limit, int) {
	if packetsPerSecond <= 0 {
		return rate.Inf, 1
	}
	return rate.Limit(packetsPerSecond), max(1, packetsPerSecond/10)
}

// SetRate changes the number of packets per second let out of the queue.
func (o *Outbound) SetRate(packetsPerSecond int) {
	l, burst := limit(packetsPerSecond)
	o.limiter.SetLimit(l)
	o.limiter.SetBurst(burst)
}

// Push queues a packet. It returns true when the oldest packet was dropped
// to make room. Packets pushed after Close are ignored.
func (o *Outbound) Push(p []byte) (dropped bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.closed {
		return false
	}

	if o.count == len(o.packets) {
		o.packets[o.head] = nil
		o.head = (o.head + 1) % len(o.packets)
		o.count--
		o.dropped++
		dropped = true
	}

	o.packets[(o.head+o.count)%len(o.packets)] = p
	o.count++

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop waits for a packet and for the rate limiter, then returns the oldest
// queued packet.
func (o *Outbound) Pop(ctx context.Context) ([]byte, error) {
	for {
		o.mutex.Lock()
		count, closed := o.count, o.closed
		o.mutex.Unlock()

		if count != 0 {
			break
		}
		if closed {
			return nil, errors.New("outbound queue closed").WithType(ErrTypeOutboundClosed)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.notify:
		}
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	// Push never empties the queue.
	p := o.packets[o.head]
	o.packets[o.head] = nil
	o.head = (o.head + 1) % len(o.packets)
	o.count--
	return p, nil
}

// Len returns the number of queued packets.
func (o *Outbound) Len() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	return o.count
}

// Dropped returns the number of packets dropped because the queue was full.
func (o *Outbound) Dropped() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	return o.dropped
}

// Close stops accepting packets. Queued packets can still be popped.
func (o *Outbound) Close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.closed {
		return
	}
	o.closed = true

	select {
	case o.notify <- struct{}{}:
	default:
	}
}
