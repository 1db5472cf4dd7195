package versioning_test

import (
	"sync"
	"testing"

	"github.com/tripab/replicanode/pkg/versioning"
)

func TestVectorClockIncrement(t *testing.T) {
	vc := versioning.NewVectorClock()

	vc.Increment("node1")
	if vc.Versions["node1"] != 1 {
		t.Errorf("Expected version 1, got %d", vc.Versions["node1"])
	}

	vc.Increment("node1")
	if vc.Versions["node1"] != 2 {
		t.Errorf("Expected version 2, got %d", vc.Versions["node1"])
	}
}

func TestVectorClockCompare(t *testing.T) {
	vc1 := versioning.NewVectorClock()
	vc1.Versions["node1"] = 1
	vc1.Versions["node2"] = 2

	vc2 := versioning.NewVectorClock()
	vc2.Versions["node1"] = 1
	vc2.Versions["node2"] = 3

	if ordering := vc1.Compare(vc2); ordering != versioning.Before {
		t.Errorf("Expected vc1 Before vc2, got %v", ordering)
	}
	if ordering := vc2.Compare(vc1); ordering != versioning.After {
		t.Errorf("Expected vc2 After vc1, got %v", ordering)
	}
	if ordering := vc1.Compare(vc1.Copy()); ordering != versioning.Equal {
		t.Errorf("Expected Equal, got %v", ordering)
	}
}

func TestVectorClockCompareMissingEntries(t *testing.T) {
	vc1 := versioning.NewVectorClock()
	vc1.Versions["node1"] = 1

	vc2 := versioning.NewVectorClock()
	vc2.Versions["node1"] = 1
	vc2.Versions["node2"] = 1

	if ordering := vc1.Compare(vc2); ordering != versioning.Before {
		t.Errorf("Expected Before when other has an extra entry, got %v", ordering)
	}
}

func TestVectorClockConcurrent(t *testing.T) {
	vc1 := versioning.NewVectorClock()
	vc1.Versions["node1"] = 2
	vc1.Versions["node2"] = 1

	vc2 := versioning.NewVectorClock()
	vc2.Versions["node1"] = 1
	vc2.Versions["node2"] = 2

	if ordering := vc1.Compare(vc2); ordering != versioning.Concurrent {
		t.Errorf("Expected Concurrent, got %v", ordering)
	}
}

func TestVectorClockMerge(t *testing.T) {
	vc1 := versioning.NewVectorClock()
	vc1.Versions["node1"] = 2
	vc1.Versions["node2"] = 1

	vc2 := versioning.NewVectorClock()
	vc2.Versions["node1"] = 1
	vc2.Versions["node2"] = 3
	vc2.Versions["node3"] = 1

	merged := vc1.Merge(vc2)

	if merged.Versions["node1"] != 2 {
		t.Errorf("Expected node1=2 in merged clock")
	}
	if merged.Versions["node2"] != 3 {
		t.Errorf("Expected node2=3 in merged clock")
	}
	if merged.Versions["node3"] != 1 {
		t.Errorf("Expected node3=1 in merged clock")
	}
	if vc1.Versions["node2"] != 1 {
		t.Errorf("Merge must not modify the receiver")
	}
}

func TestReconcileConcurrent(t *testing.T) {
	older := versioning.NewVectorClock()
	older.Versions["a"] = 1

	newer := older.Copy()
	newer.Increment("a")

	sibling := older.Copy()
	sibling.Increment("b")

	values := []versioning.VersionedValue{
		{Data: []byte("old"), VectorClock: older},
		{Data: []byte("new"), VectorClock: newer},
		{Data: []byte("sibling"), VectorClock: sibling},
		{Data: []byte("new-dup"), VectorClock: newer.Copy()},
	}

	got := versioning.ReconcileConcurrent(values)
	if len(got) != 2 {
		t.Fatalf("Expected 2 concurrent versions, got %d", len(got))
	}
	if string(got[0].Data) != "new" || string(got[1].Data) != "sibling" {
		t.Errorf("Unexpected reconciled versions: %s, %s", got[0].Data, got[1].Data)
	}
}

func TestClockStoreOrder(t *testing.T) {
	s := versioning.NewClockStore("node_local", []string{"a:1", "b:2", "c:3"})

	want := []string{"a:1", "b:2", "c:3", "node_local"}
	got := s.Nodes()
	if len(got) != len(want) {
		t.Fatalf("Expected %d nodes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Nodes[%d] = %s, expected %s", i, got[i], want[i])
		}
	}

	snap := s.Snapshot()
	for i, c := range snap.Counters {
		if c != 0 {
			t.Errorf("Expected counter %d to start at zero, got %d", i, c)
		}
	}
}

func TestClockStoreLocalAlreadyInRing(t *testing.T) {
	s := versioning.NewClockStore("b:2", []string{"a:1", "b:2"})

	if n := len(s.Nodes()); n != 2 {
		t.Fatalf("Expected 2 nodes, got %d", n)
	}

	snap := s.BumpLocal()
	if v, _ := snap.Get("b:2"); v != 1 {
		t.Errorf("Expected b:2 = 1, got %d", v)
	}
	if v, _ := snap.Get("a:1"); v != 0 {
		t.Errorf("Expected a:1 = 0, got %d", v)
	}
}

func TestClockStoreSequentialBumps(t *testing.T) {
	s := versioning.NewClockStore("local", []string{"a", "b", "c"})

	var last uint64
	for i := 1; i <= 50; i++ {
		snap := s.BumpLocal()
		if snap.Local <= last {
			t.Fatalf("Bump %d: local %d not greater than previous %d", i, snap.Local, last)
		}
		if v, ok := snap.Get("local"); !ok || v != snap.Local {
			t.Fatalf("Bump %d: snapshot local entry %d disagrees with Local %d", i, v, snap.Local)
		}
		last = snap.Local
	}

	if s.Local() != 50 {
		t.Errorf("Expected local counter 50, got %d", s.Local())
	}
}

func TestClockStoreSingleNode(t *testing.T) {
	s := versioning.NewClockStore("only", nil)

	snap := s.BumpLocal()
	if len(snap.Counters) != 1 || snap.Counters[0] != 1 {
		t.Errorf("Expected single counter [1], got %v", snap.Counters)
	}
}

func TestClockStoreSnapshotIsCopy(t *testing.T) {
	s := versioning.NewClockStore("local", []string{"a"})

	snap := s.BumpLocal()
	snap.Counters[1] = 99

	if s.Local() != 1 {
		t.Errorf("Mutating a snapshot changed the store: local=%d", s.Local())
	}

	before := s.Snapshot()
	s.BumpLocal()
	if before.Local != 1 {
		t.Errorf("Earlier snapshot changed after a bump: %d", before.Local)
	}
}

func TestClockStoreConcurrentBumps(t *testing.T) {
	s := versioning.NewClockStore("local", []string{"a", "b"})

	const workers = 100
	seen := make(chan uint64, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.BumpLocal().Local
		}()
	}
	wg.Wait()
	close(seen)

	values := make(map[uint64]bool)
	for v := range seen {
		if values[v] {
			t.Errorf("Value %d observed twice", v)
		}
		values[v] = true
	}
	for i := uint64(1); i <= workers; i++ {
		if !values[i] {
			t.Errorf("Missing value %d", i)
		}
	}
}

func TestSnapshotVectorClock(t *testing.T) {
	s := versioning.NewClockStore("local", []string{"a"})
	s.BumpLocal()
	vc := s.BumpLocal().VectorClock()

	if vc.Versions["local"] != 2 || vc.Versions["a"] != 0 {
		t.Errorf("Unexpected clock %v", vc.Versions)
	}
}

func TestLastWriteWinsReconciler(t *testing.T) {
	r := &versioning.LastWriteWinsReconciler{}

	if got := r.Resolve(nil); got != nil {
		t.Errorf("Expected nil for no values, got %q", got)
	}

	values := []versioning.VersionedValue{
		{Data: []byte("old"), Timestamp: 10, Origin: "a"},
		{Data: []byte("new"), Timestamp: 20, Origin: "a"},
		{Data: []byte("tie-low"), Timestamp: 20, Origin: "0"},
	}
	if got := string(r.Resolve(values)); got != "new" {
		t.Errorf("Expected newest timestamp to win, got %q", got)
	}

	tie := []versioning.VersionedValue{
		{Data: []byte("from-a"), Timestamp: 5, Origin: "a"},
		{Data: []byte("from-b"), Timestamp: 5, Origin: "b"},
	}
	if got := string(r.Resolve(tie)); got != "from-b" {
		t.Errorf("Expected the greater origin to break ties, got %q", got)
	}
}

func TestApplicationReconciler(t *testing.T) {
	values := []versioning.VersionedValue{{Data: []byte("x")}, {Data: []byte("y")}}

	r := &versioning.ApplicationReconciler{}
	if got := string(r.Resolve(values)); got != "x" {
		t.Errorf("Expected the first value without a ResolveFn, got %q", got)
	}

	r.ResolveFn = func(vs []versioning.VersionedValue) []byte {
		var out []byte
		for _, v := range vs {
			out = append(out, v.Data...)
		}
		return out
	}
	if got := string(r.Resolve(values)); got != "xy" {
		t.Errorf("Expected the custom merge, got %q", got)
	}
}
