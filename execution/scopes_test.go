// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopedStoreGlobalBindsOnce(t *testing.T) {
	assert := assert.New(t)

	s := newScopedStore[string]()
	assert.NoError(s.set("x", "a"))
	assert.Error(s.set("x", "b"))

	v, ok := s.get("x")
	assert.True(ok)
	assert.Equal("a", v)

	_, ok = s.get("y")
	assert.False(ok)
}

func TestScopedStoreDepthShadowing(t *testing.T) {
	assert := assert.New(t)

	s := newScopedStore[string]()
	assert.NoError(s.set("x", "outer"))

	s.enterDepth()
	assert.NoError(s.set("x", "first"))
	// a name may be rebound within the same iteration depth
	assert.NoError(s.set("x", "second"))
	v, _ := s.get("x")
	assert.Equal("second", v)

	s.enterDepth()
	assert.NoError(s.set("x", "nested"))
	v, _ = s.get("x")
	assert.Equal("nested", v)
	s.leaveDepth()

	v, _ = s.get("x")
	assert.Equal("second", v)
	s.leaveDepth()

	v, _ = s.get("x")
	assert.Equal("outer", v)
}

func TestScopedStoreLeaveDepthDropsNames(t *testing.T) {
	assert := assert.New(t)

	s := newScopedStore[int]()
	s.enterDepth()
	assert.NoError(s.set("i", 1))
	s.leaveDepth()

	_, ok := s.get("i")
	assert.False(ok)
	assert.Empty(s.cells)
}

func TestScopedStoreNewScope(t *testing.T) {
	assert := assert.New(t)

	s := newScopedStore[string]()
	assert.NoError(s.set("x", "global"))

	s.openScope("x")
	_, ok := s.get("x")
	assert.False(ok, "a new scope hides the outer binding")

	assert.NoError(s.set("x", "scoped"))
	v, _ := s.get("x")
	assert.Equal("scoped", v)
	assert.Error(s.set("x", "again"))

	s.closeScope("x")
	v, ok = s.get("x")
	assert.True(ok)
	assert.Equal("global", v)

	s.openScope("y")
	s.closeScope("y")
	_, ok = s.get("y")
	assert.False(ok)
	assert.NotContains(s.cells, "y")
}
