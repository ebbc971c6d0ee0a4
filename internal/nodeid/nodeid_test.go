package nodeid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/stract/internal/nodeid"
)

func TestFromStringDeterministic(t *testing.T) {
	a := nodeid.FromString("example.com")
	b := nodeid.FromString("example.com")
	assert.Equal(t, a, b)
}

func TestFromStringDistinct(t *testing.T) {
	a := nodeid.FromString("a.com")
	b := nodeid.FromString("b.com")
	assert.NotEqual(t, a, b)
}

func TestLessTotalOrder(t *testing.T) {
	a := nodeid.ID{Hi: 1, Lo: 0}
	b := nodeid.ID{Hi: 1, Lo: 1}
	c := nodeid.ID{Hi: 2, Lo: 0}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}
