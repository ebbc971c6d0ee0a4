package dht

import (
	"path/filepath"
	"testing"
)

type vertexKey struct {
	ID uint64
}

func (k vertexKey) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(k.ID >> (8 * i))
	}
	return b, nil
}

type vertexState struct {
	Rank    float64
	Changed bool
}

func openTestTable(t *testing.T) *Table[vertexKey, vertexState] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shard.db")
	tbl, err := Open[vertexKey, vertexState](path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func TestSetThenGetRoundTrips(t *testing.T) {
	tbl := openTestTable(t)

	if err := tbl.Set(vertexKey{ID: 1}, vertexState{Rank: 0.5}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := tbl.Get(vertexKey{ID: 1})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Rank != 0.5 {
		t.Errorf("Rank = %v, want 0.5", got.Rank)
	}
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	tbl := openTestTable(t)

	_, err := tbl.Get(vertexKey{ID: 99})
	if err != ErrKeyNotFound {
		t.Fatalf("Get missing key: got %v, want ErrKeyNotFound", err)
	}
}

func TestBatchGetOmitsMissingKeys(t *testing.T) {
	tbl := openTestTable(t)
	_ = tbl.Set(vertexKey{ID: 1}, vertexState{Rank: 1})
	_ = tbl.Set(vertexKey{ID: 2}, vertexState{Rank: 2})

	got, err := tbl.BatchGet([]vertexKey{{ID: 1}, {ID: 2}, {ID: 3}})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 found keys, got %d: %+v", len(got), got)
	}
	if _, ok := got[vertexKey{ID: 3}]; ok {
		t.Error("missing key 3 should not appear in BatchGet result")
	}
}

func TestBatchSetStoresAllPairsAtomically(t *testing.T) {
	tbl := openTestTable(t)

	pairs := map[vertexKey]vertexState{
		{ID: 1}: {Rank: 1},
		{ID: 2}: {Rank: 2},
		{ID: 3}: {Rank: 3},
	}
	if err := tbl.BatchSet(pairs); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	for k, want := range pairs {
		got, err := tbl.Get(k)
		if err != nil {
			t.Fatalf("Get(%v): %v", k, err)
		}
		if got != want {
			t.Errorf("Get(%v) = %+v, want %+v", k, got, want)
		}
	}
}

func TestUpsertAppliesFunctionInsideOneTransaction(t *testing.T) {
	tbl := openTestTable(t)

	bump := func(old vertexState, found bool) vertexState {
		if !found {
			return vertexState{Rank: 1}
		}
		old.Rank++
		return old
	}

	for i := 0; i < 3; i++ {
		if err := tbl.Upsert(vertexKey{ID: 7}, bump); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := tbl.Get(vertexKey{ID: 7})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Rank != 3 {
		t.Errorf("Rank after 3 upserts = %v, want 3", got.Rank)
	}
}

func TestScanVisitsEveryEntryUntilFalse(t *testing.T) {
	tbl := openTestTable(t)
	_ = tbl.Set(vertexKey{ID: 1}, vertexState{Rank: 1})
	_ = tbl.Set(vertexKey{ID: 2}, vertexState{Rank: 2})
	_ = tbl.Set(vertexKey{ID: 3}, vertexState{Rank: 3})

	seen := 0
	err := tbl.Scan(func(vertexKey, vertexState) bool {
		seen++
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if seen != 3 {
		t.Errorf("Scan visited %d entries, want 3", seen)
	}

	stopped := 0
	err = tbl.Scan(func(vertexKey, vertexState) bool {
		stopped++
		return false
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stopped != 1 {
		t.Errorf("Scan should stop after the first entry when fn returns false, visited %d", stopped)
	}
}

func TestShardForIsDeterministicAndWithinRange(t *testing.T) {
	const numShards = 8
	k := vertexKey{ID: 42}

	first, err := ShardFor(k, numShards)
	if err != nil {
		t.Fatalf("ShardFor: %v", err)
	}
	second, err := ShardFor(k, numShards)
	if err != nil {
		t.Fatalf("ShardFor: %v", err)
	}
	if first != second {
		t.Errorf("ShardFor(%v) not deterministic: %v != %v", k, first, second)
	}
	if first.Num >= numShards {
		t.Errorf("ShardFor(%v).Num = %d, want < %d", k, first.Num, numShards)
	}
	if first.IsLive() {
		t.Error("DHT shards should be the Backbone variant")
	}
}
