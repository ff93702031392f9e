package route

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_LiteralShadowsWildcard(t *testing.T) {
	for _, order := range [][]string{{"/<name>", "/users"}, {"/users", "/<name>"}} {
		r := NewRouter[string]()
		for _, route := range order {
			require.NoError(t, r.Handle(route, route))
		}

		m, ok := r.Lookup("/users")
		require.True(t, ok)
		assert.Equal(t, "/users", m.Value)

		m, ok = r.Lookup("/orders")
		require.True(t, ok)
		assert.Equal(t, "/<name>", m.Value)
		assert.Equal(t, map[string]string{"name": "orders"}, m.Params)
	}
}

func TestRouter_PriorityVector(t *testing.T) {
	r := NewRouter[string]()
	require.NoError(t, r.Handle("/<a>/<b>", "any-any"))
	require.NoError(t, r.Handle("/<int:a>/<b>", "regex-any"))
	require.NoError(t, r.Handle("/<a>/edit", "any-literal"))
	require.NoError(t, r.Handle("/<**rest>", "catch-all"))

	tests := []struct {
		path string
		want string
	}{
		{"/12/edit", "regex-any"},
		{"/bob/edit", "any-literal"},
		{"/bob/view", "any-any"},
		{"/bob", "catch-all"},
		{"/a/b/c", "catch-all"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, ok := r.Lookup(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.want, m.Value)
		})
	}
}

func TestRouter_Backtracks(t *testing.T) {
	r := NewRouter[string]()
	require.NoError(t, r.Handle("/users/admin/settings", "literal"))
	require.NoError(t, r.Handle("/users/<id>/profile", "profile"))

	m, ok := r.Lookup("/users/admin/profile")
	require.True(t, ok)
	assert.Equal(t, "profile", m.Value)
	assert.Equal(t, "admin", m.Params["id"])
}

func TestRouter_CatchAll(t *testing.T) {
	r := NewRouter[string]()
	require.NoError(t, r.Handle("/static/<**path>", "static"))

	m, ok := r.Lookup("/static/css/site.css")
	require.True(t, ok)
	assert.Equal(t, "css/site.css", m.Params["path"])

	m, ok = r.Lookup("/static")
	require.True(t, ok)
	assert.Equal(t, "", m.Params["path"])

	_, ok = r.Lookup("/other")
	assert.False(t, ok)
}

func TestRouter_RegexCaptures(t *testing.T) {
	r := NewRouter[string]()
	require.NoError(t, r.Handle("/files/report.<int:n>.csv", "report"))
	require.NoError(t, r.Handle("/items/<int:id>", "item"))

	m, ok := r.Lookup("/files/report.7.csv")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"n": "7"}, m.Params)

	m, ok = r.Lookup("/items/-3?verbose=1")
	require.True(t, ok)
	assert.Equal(t, "-3", m.Params["id"])

	_, ok = r.Lookup("/items/abc")
	assert.False(t, ok)
}

func TestRouter_RootAndTrailingSlash(t *testing.T) {
	r := NewRouter[int]()
	require.NoError(t, r.Handle("/", 1))
	require.NoError(t, r.Handle("/health", 2))

	m, ok := r.Lookup("/")
	require.True(t, ok)
	assert.Equal(t, 1, m.Value)

	m, ok = r.Lookup("/health/")
	require.True(t, ok)
	assert.Equal(t, 2, m.Value)
	assert.Equal(t, "/health", m.Route)
}

func TestRouter_ReRegistrationReplaces(t *testing.T) {
	r := NewRouter[string]()
	require.NoError(t, r.Handle("/a/<x>", "first"))
	require.NoError(t, r.Handle("/a/<y>", "second"))
	assert.Equal(t, 1, r.Len())

	m, ok := r.Lookup("/a/1")
	require.True(t, ok)
	assert.Equal(t, "second", m.Value)
	assert.Equal(t, map[string]string{"y": "1"}, m.Params)
}

func TestRouter_InsertRejectsInvalid(t *testing.T) {
	r := NewRouter[string]()
	assert.ErrorIs(t, r.Insert("bad", []Pattern{Regex("(")}, nil, "x"), ErrInvalidRoute)
	assert.ErrorIs(t, r.Insert("bad", []Pattern{AnyPath(), Literal("a")}, nil, "x"), ErrInvalidRoute)
	assert.ErrorIs(t, r.Insert("bad", []Pattern{Literal("a")}, []string{"a", "b"}, "x"), ErrInvalidRoute)
	assert.ErrorIs(t, r.Handle("/<", "x"), ErrInvalidRoute)
}

func TestRouter_ConcurrentLookup(t *testing.T) {
	r := NewRouter[string]()
	require.NoError(t, r.Handle("/users/<int:id>", "user"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m, ok := r.Lookup("/users/42")
				assert.True(t, ok)
				assert.Equal(t, "42", m.Params["id"])
			}
		}()
	}
	wg.Wait()
}
