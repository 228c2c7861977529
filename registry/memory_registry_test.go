package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterDiscoverDeregister(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	a := Instance{Addr: "127.0.0.1:9001", Transport: "stream", Weight: 1}
	b := Instance{Addr: "ws://127.0.0.1:4055/rpc", Transport: "websocket", Weight: 1}
	require.NoError(t, reg.Register(ctx, ServiceName, b, 10))
	require.NoError(t, reg.Register(ctx, ServiceName, a, 10))

	got, err := reg.Discover(ctx, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, []Instance{a, b}, got)
	assert.Equal(t, []Instance{b}, Filter(got, "websocket"))

	require.NoError(t, reg.Deregister(ctx, ServiceName, a.Addr))
	got, _ = reg.Discover(ctx, ServiceName)
	assert.Equal(t, []Instance{b}, got)

	got, _ = reg.Discover(ctx, "other")
	assert.Empty(t, got)
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ch := reg.Watch(ctx, ServiceName)

	inst := Instance{Addr: "127.0.0.1:9001", Transport: "stream"}
	require.NoError(t, reg.Register(context.Background(), ServiceName, inst, 10))
	select {
	case got := <-ch:
		assert.Equal(t, []Instance{inst}, got)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
