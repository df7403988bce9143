package models

import (
	"context"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestOutboundPushPop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o := NewOutbound(3, 0)
	for i := 0; i < 3; i++ {
		require.False(t, o.Push([]byte{byte(i)}))
	}
	require.Equal(t, 3, o.Len())

	for i := 0; i < 3; i++ {
		p, err := o.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, p)
	}
	require.Zero(t, o.Len())
}

func TestOutboundDropsOldest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o := NewOutbound(2, 0)
	require.False(t, o.Push([]byte{1}))
	require.False(t, o.Push([]byte{2}))
	require.True(t, o.Push([]byte{3}))
	require.True(t, o.Push([]byte{4}))
	require.Equal(t, 2, o.Dropped())
	require.Equal(t, 2, o.Len())

	p, err := o.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{3}, p)

	p, err = o.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{4}, p)
}

func TestOutboundPopWaits(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o := NewOutbound(2, 0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		o.Push([]byte{42})
	}()

	p, err := o.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{42}, p)
}

func TestOutboundPopCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewOutbound(2, 0).Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOutboundClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o := NewOutbound(2, 0)
	o.Push([]byte{1})
	o.Close()
	o.Close()
	require.False(t, o.Push([]byte{2}))

	p, err := o.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, p)

	_, err = o.Pop(ctx)
	require.True(t, errors.IsType(err, ErrTypeOutboundClosed))
}

func TestOutboundRate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o := NewOutbound(10, 20)
	for i := 0; i < 4; i++ {
		o.Push([]byte{byte(i)})
	}

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := o.Pop(ctx)
		require.NoError(t, err)
	}

	// A burst of 2 then 2 packets spaced by 50ms.
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
