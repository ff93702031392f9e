package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	p := &fakeProtocol{id: "alpha", prefix: "A"}
	err := r.Register(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Len() != 1 {
		t.Errorf("expected count 1, got %d", r.Len())
	}

	// Duplicate registration should fail
	err = r.Register(&fakeProtocol{id: "alpha", prefix: "B"})
	if !errors.Is(err, ErrProtocolExists) {
		t.Errorf("expected ErrProtocolExists, got %v", err)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register(nil), ErrNilProtocol)
	assert.ErrorIs(t, r.Register(&fakeProtocol{}), ErrEmptyProtocolID)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_GetAndUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProtocol{id: "alpha", prefix: "A"}))
	require.NoError(t, r.Register(&fakeProtocol{id: "beta", prefix: "B"}))

	p, ok := r.Get("beta")
	require.True(t, ok)
	assert.Equal(t, ID("beta"), p.ID())

	require.NoError(t, r.Unregister("alpha"))
	_, ok = r.Get("alpha")
	assert.False(t, ok)
	assert.Len(t, r.List(), 1)

	err := r.Unregister("alpha")
	assert.ErrorIs(t, err, ErrProtocolNotFound)
}

func TestRegistry_DetectFirstMatchWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProtocol{id: "broad", prefix: "G"}))
	require.NoError(t, r.Register(&fakeProtocol{id: "narrow", prefix: "GET"}))

	p := r.Detect([]byte("GET / HTTP/1.1"))
	require.NotNil(t, p)
	assert.Equal(t, ID("broad"), p.ID())

	assert.Nil(t, r.Detect([]byte("POST")))
	assert.Nil(t, r.Detect(nil))
}

func TestRegistry_DetectSkipsClientRole(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProtocol{id: "client", prefix: "X", role: RoleClient}))
	require.NoError(t, r.Register(&fakeProtocol{id: "server", prefix: "X"}))

	p := r.Detect([]byte("X"))
	require.NotNil(t, p)
	assert.Equal(t, ID("server"), p.ID())
}

func TestRegistry_ListKeepsOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ID{"c", "a", "b"} {
		require.NoError(t, r.Register(&fakeProtocol{id: id, prefix: string(id)}))
	}

	var ids []ID
	for _, p := range r.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []ID{"c", "a", "b"}, ids)
}
