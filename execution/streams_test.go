// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamValue(v interface{}) *ValueAggregate {
	return &ValueAggregate{Result: v, TracePos: -1}
}

func results(vs []*ValueAggregate) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v.Result
	}
	return out
}

func TestStreamGenerationsOrder(t *testing.T) {
	require := require.New(t)

	s := newStream(4, 4)
	idx, err := s.Add(streamValue("new"), Generation{Kind: GenNew})
	require.NoError(err)
	require.Equal(0, idx)

	idx, err = s.Add(streamValue("current"), Generation{Kind: GenCurrent, Idx: 1})
	require.NoError(err)
	require.Equal(1, idx)

	_, err = s.Add(streamValue("prev"), Generation{Kind: GenPrevious, Idx: 0})
	require.NoError(err)

	require.Equal([]interface{}{"prev", "current", "new"}, results(s.Values()))
	require.Equal(3, s.Len())
}

func TestStreamNewGenerations(t *testing.T) {
	require := require.New(t)

	s := newStream(0, 0)
	s.AddNewGenerationIfNonEmpty()
	require.Empty(s.gens[GenNew], "an empty stream gets no generation")

	_, err := s.Add(streamValue(1), Generation{Kind: GenNew})
	require.NoError(err)
	idx, err := s.Add(streamValue(2), Generation{Kind: GenNew})
	require.NoError(err)
	require.Equal(0, idx)

	s.AddNewGenerationIfNonEmpty()
	s.AddNewGenerationIfNonEmpty()
	require.Len(s.gens[GenNew], 2, "only a filled generation is closed")

	idx, err = s.Add(streamValue(3), Generation{Kind: GenNew})
	require.NoError(err)
	require.Equal(1, idx)
}

func TestStreamGenerationOutOfBounds(t *testing.T) {
	require := require.New(t)

	s := newStream(2, 0)
	_, err := s.Add(streamValue("v"), Generation{Kind: GenPrevious, Idx: 3})
	require.Error(err)

	ce, ok := AsCatchable(err)
	require.True(ok)
	require.Equal(StreamGenerationNotFound, ce.Kind)

	_, err = s.Add(streamValue("v"), Generation{Kind: GenCurrent, Idx: 1})
	require.Error(err)
}

func TestStreamCursor(t *testing.T) {
	assert := assert.New(t)

	s := newStream(4, 4)
	_, _ = s.Add(streamValue("p0"), Generation{Kind: GenPrevious, Idx: 0})
	_, _ = s.Add(streamValue("p2"), Generation{Kind: GenPrevious, Idx: 2})
	_, _ = s.Add(streamValue("n0"), Generation{Kind: GenNew})

	cursor := &streamCursor{}
	iterables := cursor.constructIterables(s)
	assert.Len(iterables, 3)
	assert.Equal([]interface{}{"p0"}, results(iterables[0]))
	assert.Equal([]interface{}{"p2"}, results(iterables[1]))
	assert.Equal([]interface{}{"n0"}, results(iterables[2]))

	assert.Empty(cursor.constructIterables(s), "visited generations are not returned again")

	s.AddNewGenerationIfNonEmpty()
	_, _ = s.Add(streamValue("n1"), Generation{Kind: GenNew})
	iterables = cursor.constructIterables(s)
	assert.Len(iterables, 1)
	assert.Equal([]interface{}{"n1"}, results(iterables[0]))
}

func TestStreamsRestrictedShadowsGlobal(t *testing.T) {
	assert := assert.New(t)

	streams := NewStreams(0, 0)
	global := streams.Get("$s")
	_, _ = global.Add(streamValue("global"), Generation{Kind: GenNew})

	streams.MeetNewStart("$s", 7)
	restricted := streams.Get("$s")
	assert.NotSame(global, restricted)
	assert.Zero(restricted.Len())
	_, _ = restricted.Add(streamValue("restricted"), Generation{Kind: GenNew})

	assert.Same(global, streams.global["$s"])
	assert.Equal(1, global.Len())
}
