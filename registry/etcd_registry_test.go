package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEtcdOrSkip connects to a local etcd, skipping the test when none answers.
func newEtcdOrSkip(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, "localhost:2379"); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newEtcdOrSkip(t)
	ctx := context.Background()
	service := "treemap-test-" + time.Now().Format("150405.000")

	inst1 := Instance{Addr: "127.0.0.1:8001", Transport: "stream", Codec: "binary", Weight: 10, Version: "1.0.0"}
	inst2 := Instance{Addr: "ws://127.0.0.1:8002/rpc", Transport: "websocket", Weight: 5, Version: "1.0.0"}
	require.NoError(t, reg.Register(ctx, service, inst1, 10))
	require.NoError(t, reg.Register(ctx, service, inst2, 10))

	instances, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Instance{inst1, inst2}, instances)

	require.NoError(t, reg.Deregister(ctx, service, inst1.Addr))
	instances, err = reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, []Instance{inst2}, instances)

	require.NoError(t, reg.Deregister(ctx, service, inst2.Addr))
}
