package segment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stract/internal/segment"
)

type countingCollector struct{ n int }

func (c *countingCollector) CollectSegment(segment.ID) (interface{}, error) {
	c.n++
	return c.n, nil
}
func (c *countingCollector) RequiresScoring() bool { return false }

func TestMemStoreInsertCommitSearch(t *testing.T) {
	s := segment.NewMemStore()
	require.NoError(t, s.Insert(segment.Document{URL: "a"}))
	require.NoError(t, s.Insert(segment.Document{URL: "b"}))
	require.NoError(t, s.Commit())

	assert.Len(t, s.SegmentIDs(), 1)

	c := &countingCollector{}
	fruit, err := s.Search(c)
	require.NoError(t, err)
	assert.Len(t, fruit, 1)
}

func TestMemStoreMergeDeduplicatesByURLLastWriterWins(t *testing.T) {
	s := segment.NewMemStore()
	require.NoError(t, s.Insert(segment.Document{URL: "a", Fields: map[string]string{"title": "old"}}))
	require.NoError(t, s.Insert(segment.Document{URL: "a", Fields: map[string]string{"title": "new"}}))
	require.NoError(t, s.Commit())

	ids := s.SegmentIDs()
	require.Len(t, ids, 1)

	op, mergeOp, err := s.StartMergeSegmentsByID(ids)
	require.NoError(t, err)
	require.NotNil(t, op)
	newID, err := s.EndMergeSegmentsByID(mergeOp, op)
	require.NoError(t, err)
	require.NotNil(t, newID)

	docs := s.Docs(*newID)
	require.Len(t, docs, 1)
	assert.Equal(t, "new", docs[0].Fields["title"])
}

func TestMemStoreMergePreservesUnion(t *testing.T) {
	s := segment.NewMemStore()
	require.NoError(t, s.Insert(segment.Document{URL: "a"}))
	require.NoError(t, s.Commit())
	require.NoError(t, s.Insert(segment.Document{URL: "b"}))
	require.NoError(t, s.Commit())

	ids := s.SegmentIDs()
	require.Len(t, ids, 2)

	prepared, op, err := s.StartMergeSegmentsByID(ids)
	require.NoError(t, err)
	newID, err := s.EndMergeSegmentsByID(op, prepared)
	require.NoError(t, err)
	require.NotNil(t, newID)

	docs := s.Docs(*newID)
	urls := map[string]bool{}
	for _, d := range docs {
		urls[d.URL] = true
	}
	assert.True(t, urls["a"] && urls["b"])
	assert.Len(t, s.SegmentIDs(), 1, "inputs are retired once merged")
}

func TestMemStoreEmptyMergeDropsInputsWithoutNewSegment(t *testing.T) {
	s := segment.NewMemStore()
	require.NoError(t, s.Insert(segment.Document{URL: "a"}))
	require.NoError(t, s.Commit())
	ids := s.SegmentIDs()

	// Force an empty-merge result by merging an id set whose prepared
	// entry the store decides yields no documents is not directly
	// reachable through MemStore's own Start/EndMerge (it always finds
	// docs when inputs are non-empty), so exercise the nil-prepared path
	// that DeleteSegmentsByID + EndMergeSegmentsByID(op, nil) takes,
	// mirroring what a real store does when a tombstone merge leaves no
	// live rows.
	_, op, err := s.StartMergeSegmentsByID(ids)
	require.NoError(t, err)

	newID, err := s.EndMergeSegmentsByID(op, nil)
	require.NoError(t, err)
	assert.Nil(t, newID)
	assert.Empty(t, s.SegmentIDs(), "inputs still retired even though no replacement segment was created")
}

func TestMemStoreDeleteSegmentsByID(t *testing.T) {
	s := segment.NewMemStore()
	require.NoError(t, s.Insert(segment.Document{URL: "a"}))
	require.NoError(t, s.Commit())
	ids := s.SegmentIDs()

	require.NoError(t, s.DeleteSegmentsByID(ids))
	assert.Empty(t, s.SegmentIDs())
}
