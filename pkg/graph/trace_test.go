package graph

import (
	"reflect"
	"testing"
)

func TestQueryTraceSnapshot(t *testing.T) {
	trace := NewQueryTrace()

	RecordQueriedTraitKeys(trace, "Trait_B", "Trait_A", "Trait_B")
	RecordUsedStudyIDs(trace, 42, 7, 42, 0)
	RecordQueriedPairKeys(trace, "Trait_A|Trait_B", "")
	RecordQueriedTraitKeys(trace, "")

	snapshot := trace.Snapshot()

	if snapshot.ID == "" {
		t.Error("Snapshot().ID is empty")
	}
	if want := []string{"Trait_A", "Trait_B"}; !reflect.DeepEqual(snapshot.QueriedTraitKeys, want) {
		t.Errorf("QueriedTraitKeys = %v, want %v", snapshot.QueriedTraitKeys, want)
	}
	if want := []int64{7, 42}; !reflect.DeepEqual(snapshot.UsedStudyIDs, want) {
		t.Errorf("UsedStudyIDs = %v, want %v", snapshot.UsedStudyIDs, want)
	}
	if want := []string{"Trait_A|Trait_B"}; !reflect.DeepEqual(snapshot.QueriedPairKeys, want) {
		t.Errorf("QueriedPairKeys = %v, want %v", snapshot.QueriedPairKeys, want)
	}
}

func TestQueryTraceIDsAreDistinct(t *testing.T) {
	a := NewQueryTrace()
	b := NewQueryTrace()
	if a.ID == b.ID {
		t.Errorf("two traces share the id %q", a.ID)
	}
}

func TestTraceNilSafety(t *testing.T) {
	var trace *QueryTrace

	RecordQueriedTraitKeys(trace, "Trait_A")
	RecordUsedStudyIDs(nil, 1)
	RecordQueriedPairKeys(nil, "a|b")
	trace.Record(TraceEvent{Kind: TraceEventQueriedTraitKeys, TraitKeys: []string{"x"}})

	snapshot := trace.Snapshot()
	if len(snapshot.QueriedTraitKeys) != 0 || len(snapshot.UsedStudyIDs) != 0 {
		t.Errorf("nil trace snapshot not empty: %+v", snapshot)
	}
}

func TestMultiTracerFanOut(t *testing.T) {
	first := NewQueryTrace()
	second := NewQueryTrace()
	multi := MultiTracer{first, nil, second}

	RecordQueriedTraitKeys(multi, "Trait_A")

	if got := first.Snapshot().QueriedTraitKeys; len(got) != 1 {
		t.Errorf("first tracer recorded %v, want one key", got)
	}
	if got := second.Snapshot().QueriedTraitKeys; len(got) != 1 {
		t.Errorf("second tracer recorded %v, want one key", got)
	}
}

func TestTraceIgnoresUnknownKinds(t *testing.T) {
	trace := NewQueryTrace()
	trace.Record(TraceEvent{Kind: TraceEventToolCall, ToolName: "get_trait_node"})

	snapshot := trace.Snapshot()
	if len(snapshot.QueriedTraitKeys)+len(snapshot.UsedStudyIDs)+len(snapshot.QueriedPairKeys) != 0 {
		t.Errorf("tool-call event mutated identifier sets: %+v", snapshot)
	}
}
