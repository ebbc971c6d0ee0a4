package segment_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stract/internal/segment"
)

func TestReconcileKeepsIntersectionTimestamps(t *testing.T) {
	old := time.Now().Add(-time.Hour).UTC()
	id1 := segment.NewID()
	id2 := segment.NewID()

	m := segment.Meta{Segments: []segment.Entry{{ID: id1, Created: old}}}
	now := time.Now().UTC()

	reconciled := segment.Reconcile(m, []segment.ID{id1, id2}, now)

	byID := map[segment.ID]time.Time{}
	for _, e := range reconciled.Segments {
		byID[e.ID] = e.Created
	}
	assert.True(t, byID[id1].Equal(old), "existing segment keeps its recorded creation time")
	assert.True(t, byID[id2].Equal(now), "store-only segment is stamped with now")
}

func TestReconcileDropsMetaOnlySegments(t *testing.T) {
	gone := segment.NewID()
	m := segment.Meta{Segments: []segment.Entry{{ID: gone, Created: time.Now()}}}

	reconciled := segment.Reconcile(m, nil, time.Now())
	assert.Empty(t, reconciled.Segments)
}

func TestSaveLoadMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	id := segment.NewID()
	created := time.Now().UTC().Truncate(time.Second)
	m := segment.Meta{Segments: []segment.Entry{{ID: id, Created: created}}}

	require.NoError(t, segment.SaveMeta(dir, m))

	loaded, err := segment.LoadMeta(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Segments, 1)
	assert.Equal(t, id, loaded.Segments[0].ID)
	assert.True(t, created.Equal(loaded.Segments[0].Created))
}

func TestLoadMetaMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	m, err := segment.LoadMeta(dir)
	require.NoError(t, err)
	assert.Empty(t, m.Segments)
}

func TestSaveMetaNoPartialFileOnReplace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, segment.SaveMeta(dir, segment.Meta{}))
	require.NoError(t, segment.SaveMeta(dir, segment.Meta{Segments: []segment.Entry{{ID: segment.NewID(), Created: time.Now()}}}))

	// The tmp file must never be left behind after a successful replace.
	_, err := os.Stat(filepath.Join(dir, "meta.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}
