package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdge_Known(t *testing.T) {
	e, err := ParseEdge(" Edge60 ")
	require.NoError(t, err)
	assert.Equal(t, Edge60, e)
	assert.Equal(t, "edge60", e.String())
}

func TestParseEdge_Undefined(t *testing.T) {
	e, err := ParseEdge("undefined")
	require.NoError(t, err)
	assert.Equal(t, EdgeUndefined, e)
}

func TestParseEdge_Unknown(t *testing.T) {
	_, err := ParseEdge("edge99")
	assert.ErrorIs(t, err, ErrUnauthorised)
}

func TestEdge_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Edge Edge `json:"edge"`
	}{Edge70})
	require.NoError(t, err)
	assert.JSONEq(t, `{"edge":"edge70"}`, string(b))

	var out struct {
		Edge Edge `json:"edge"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"edge":"edge61"}`), &out))
	assert.Equal(t, Edge61, out.Edge)

	assert.Error(t, json.Unmarshal([]byte(`{"edge":"nope"}`), &out))
}

func TestNewEdgeSet(t *testing.T) {
	set, err := NewEdgeSet([]string{"edge60", "edge62"})
	require.NoError(t, err)
	assert.True(t, set.Contains(Edge60))
	assert.True(t, set.Contains(Edge62))
	assert.False(t, set.Contains(Edge61))
	assert.False(t, set.Contains(EdgeUndefined))
}

func TestNewEdgeSet_RejectsUndefined(t *testing.T) {
	_, err := NewEdgeSet([]string{"undefined"})
	assert.ErrorIs(t, err, ErrUnauthorised)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("LONG")
	require.NoError(t, err)
	assert.Equal(t, DirectionLong, d)

	_, err = ParseDirection("short")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}
