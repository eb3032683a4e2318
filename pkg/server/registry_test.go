package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vip2p-protocol/vip2p-go/pkg/node"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

func newTestNode() *node.ServerNode {
	return node.NewServerNode(nil, nil, node.Config{})
}

func TestRegistryInsertRemove(t *testing.T) {
	r := NewRegistry()
	n := newTestNode()

	require.NoError(t, r.Insert(n))
	assert.True(t, r.Contains(n.Identity()))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup(n.Identity())
	require.True(t, ok)
	assert.Same(t, n, got)

	removed, err := r.Remove(n.Identity())
	require.NoError(t, err)
	assert.Same(t, n, removed)
	assert.False(t, r.Contains(n.Identity()))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryDuplicateInsert(t *testing.T) {
	r := NewRegistry()
	n := newTestNode()

	require.NoError(t, r.Insert(n))
	err := r.Insert(n)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryDoubleRemove(t *testing.T) {
	r := NewRegistry()
	n := newTestNode()
	require.NoError(t, r.Insert(n))

	_, err := r.Remove(n.Identity())
	require.NoError(t, err)

	_, err = r.Remove(n.Identity())
	if !errors.Is(err, ErrRegistryInconsistency) {
		t.Errorf("second Remove error = %v, want ErrRegistryInconsistency", err)
	}
}

func TestRegistryRejectsClosedNode(t *testing.T) {
	r := NewRegistry()
	local, remote := transport.Pipe(transport.ConnOptions{})
	defer remote.Close()

	n := node.NewServerNode(local, nil, node.Config{})
	require.NoError(t, n.Close("gone"))

	err := r.Insert(n)
	assert.ErrorIs(t, err, ErrNodeClosed)
	assert.Equal(t, 0, r.Len())
}

// TestStopDuringRegistration closes a node between its Connected transition
// and the registry insert. The registry must not keep the closed node.
func TestStopDuringRegistration(t *testing.T) {
	config := DefaultConfig()
	config.Address = "127.0.0.1:0"
	config.PollInterval = 20 * time.Millisecond
	s, err := New(config)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	conn, err := transport.Dial(context.Background(), s.Addr().String(), transport.DialConfig{})
	require.NoError(t, err)
	defer conn.Close()

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	msg, err := wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.CmdSend, msg.Command)

	// Hold the registry so INIT stalls inside Insert.
	s.registry.mu.Lock()
	locked := true
	defer func() {
		if locked {
			s.registry.mu.Unlock()
		}
	}()

	require.NoError(t, conn.WriteFrame(wire.Encode(wire.CmdInit, nil)))

	var found atomic.Pointer[node.ServerNode]
	require.Eventually(t, func() bool {
		s.tracker.Each(func(n *node.ServerNode) {
			if n.State() == node.StateConnected {
				found.Store(n)
			}
		})
		return found.Load() != nil
	}, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	time.Sleep(50 * time.Millisecond)
	locked = false
	s.registry.mu.Unlock()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	n := found.Load()
	assert.Equal(t, node.StateClosed, n.State())
	assert.False(t, s.registry.Contains(n.Identity()))
	assert.Equal(t, 0, s.registry.Len())
}

func TestRegistryIdentitiesSnapshot(t *testing.T) {
	r := NewRegistry()
	want := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		n := newTestNode()
		require.NoError(t, r.Insert(n))
		want[n.Identity()] = true
	}

	ids := r.Identities()
	require.Len(t, ids, 5)
	for i, id := range ids {
		assert.True(t, want[id])
		if i > 0 {
			assert.Less(t, ids[i-1].String(), id.String(), "sorted")
		}
	}

	// Mutating the snapshot does not touch the registry.
	ids[0] = uuid.Nil
	assert.False(t, r.Contains(uuid.Nil))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const workers = 50

	nodes := make([]*node.ServerNode, workers)
	for i := range nodes {
		nodes[i] = newTestNode()
	}

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *node.ServerNode) {
			defer wg.Done()
			_ = r.Insert(n)
			_ = r.Len()
			_ = r.Identities()
		}(n)
	}
	wg.Wait()
	assert.Equal(t, workers, r.Len())

	errs := make(chan error, 2*workers)
	for _, n := range nodes {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(n *node.ServerNode) {
				defer wg.Done()
				_, err := r.Remove(n.Identity())
				errs <- err
			}(n)
		}
	}
	wg.Wait()
	close(errs)

	var ok, inconsistent int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRegistryInconsistency):
			inconsistent++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, workers, ok, "each node removed exactly once")
	assert.Equal(t, workers, inconsistent)
	assert.Equal(t, 0, r.Len())
}

func TestNodeTrackerCloseStale(t *testing.T) {
	nt := newNodeTracker()
	n := newTestNode()
	nt.Add(n)
	assert.Equal(t, 1, nt.Len())

	// Fresh nodes survive.
	assert.Equal(t, 0, nt.CloseStale(time.Hour))

	nt.Remove(n)
	assert.Equal(t, 0, nt.Len())
	nt.Remove(n)
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Address = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative handshake timeout", func(c *Config) { c.HandshakeTimeout = -1 }},
		{"zero reaper interval", func(c *Config) { c.ReaperInterval = 0 }},
		{"negative max connections", func(c *Config) { c.MaxConnections = -1 }},
		{"zero handler limit", func(c *Config) { c.MaxConcurrentHandlers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}

	// No reaper needed without a handshake timeout.
	c := DefaultConfig()
	c.HandshakeTimeout = 0
	c.ReaperInterval = 0
	assert.NoError(t, c.Validate())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPING", StateStopping.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
