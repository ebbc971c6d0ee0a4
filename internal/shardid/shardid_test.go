package shardid_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stract/internal/shardid"
)

func TestOrdering(t *testing.T) {
	b0 := shardid.NewBackbone(0)
	b5 := shardid.NewBackbone(5)
	l0 := shardid.NewLive(0)

	assert.True(t, b0.Less(b5))
	assert.False(t, b5.Less(b0))
	assert.True(t, b5.Less(l0), "every Backbone sorts before every Live regardless of Num")
	assert.False(t, l0.Less(b5))
}

func TestVariantsNeverEqualAcrossKind(t *testing.T) {
	assert.NotEqual(t, shardid.NewBackbone(3), shardid.NewLive(3))
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		ID shardid.ID `json:"id"`
	}
	in := wrapper{ID: shardid.NewLive(42)}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out wrapper
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.ID, out.ID)
}

func TestIDAsMapKey(t *testing.T) {
	m := map[shardid.ID]string{
		shardid.NewBackbone(1): "a",
		shardid.NewLive(1):     "b",
	}
	assert.Equal(t, "a", m[shardid.NewBackbone(1)])
	assert.Equal(t, "b", m[shardid.NewLive(1)])
}
