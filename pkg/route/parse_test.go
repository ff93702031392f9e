package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		route    string
		patterns []Pattern
		names    []string
	}{
		{"/", nil, nil},
		{"/users//list/", []Pattern{Literal("users"), Literal("list")}, []string{"", ""}},
		{"/users/<id>", []Pattern{Literal("users"), Any()}, []string{"", "id"}},
		{"/users/<str:name>", []Pattern{Literal("users"), Any()}, []string{"", "name"}},
		{"/users/<str>", []Pattern{Literal("users"), Any()}, []string{"", ""}},
		{"/items/<int:id>", []Pattern{Literal("items"), Regex(`-?\d+`)}, []string{"", "id"}},
		{"/items/<uint>", []Pattern{Literal("items"), Regex(`\d+`)}, []string{"", ""}},
		{"/tags/<||[a-z]+||:tag>", []Pattern{Literal("tags"), Regex(`[a-z]+`)}, []string{"", "tag"}},
		{"/tags/<||a>b||>", []Pattern{Literal("tags"), Regex(`a>b`)}, []string{"", ""}},
		{"/static/<**path>", []Pattern{Literal("static"), AnyPath()}, []string{"", "path"}},
		{"/static/<**:path>", []Pattern{Literal("static"), AnyPath()}, []string{"", "path"}},
		{"/static/<**>", []Pattern{Literal("static"), AnyPath()}, []string{"", ""}},
		{"/files/report.<int:n>.csv", []Pattern{Literal("files"), Regex(`report\.(?P<n>-?\d+)\.csv`)}, []string{"", ""}},
		{"/files/v<id>", []Pattern{Literal("files"), Regex(`v(?P<id>[^/]+)`)}, []string{"", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			patterns, names, err := Parse(tt.route)
			require.NoError(t, err)
			assert.Equal(t, tt.patterns, patterns)
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, route := range []string{
		"/users/<id",
		"/users/id>",
		"/users/<>",
		"/users/<int:>",
		"/users/<float:x>",
		"/users/<bad name>",
		"/tags/<||[a-||>",
		"/tags/<||abc>",
		"/tags/<||a||x>",
		"/files/a<**rest>",
		"/files/<**rest>/more",
	} {
		t.Run(route, func(t *testing.T) {
			_, _, err := Parse(route)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("/<") })
	assert.NotPanics(t, func() { MustParse("/ok") })
}
