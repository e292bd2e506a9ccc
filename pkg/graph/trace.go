package graph

import (
	"slices"
	"sort"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type TraceEventKind string

const (
	TraceEventQueriedTraitKeys TraceEventKind = "queried_trait_keys"
	TraceEventUsedStudyIDs     TraceEventKind = "used_study_ids"
	TraceEventQueriedPairKeys  TraceEventKind = "queried_pair_keys"

	TraceEventToolCall TraceEventKind = "tool_call"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	TraitKeys []string
	StudyIDs  []int64
	PairKeys  []string

	ToolName      string
	ToolArguments string
	DurationMs    int64
	Error         string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom
// post-processing pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordQueriedTraitKeys(t Tracer, keys ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedTraitKeys, TraitKeys: keys})
}

func RecordUsedStudyIDs(t Tracer, ids ...int64) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedStudyIDs, StudyIDs: ids})
}

func RecordQueriedPairKeys(t Tracer, pairs ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedPairKeys, PairKeys: pairs})
}

// QueryTrace collects which traits, studies, and edges a query run
// touched. It backs the provenance surface callers show next to
// answers ("which studies is this based on").
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	// ID tags log lines and snapshots from one query run.
	ID string

	mu sync.Mutex

	queriedTraitKeys map[string]struct{}
	usedStudyIDs     map[int64]struct{}
	queriedPairKeys  map[string]struct{}
}

type QueryTraceSnapshot struct {
	ID               string
	QueriedTraitKeys []string
	UsedStudyIDs     []int64
	QueriedPairKeys  []string
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		ID:               gonanoid.Must(),
		queriedTraitKeys: make(map[string]struct{}),
		usedStudyIDs:     make(map[int64]struct{}),
		queriedPairKeys:  make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventQueriedTraitKeys:
		for _, key := range event.TraitKeys {
			if key == "" {
				continue
			}
			t.queriedTraitKeys[key] = struct{}{}
		}
	case TraceEventUsedStudyIDs:
		for _, id := range event.StudyIDs {
			if id == 0 {
				continue
			}
			t.usedStudyIDs[id] = struct{}{}
		}
	case TraceEventQueriedPairKeys:
		for _, pair := range event.PairKeys {
			if pair == "" {
				continue
			}
			t.queriedPairKeys[pair] = struct{}{}
		}
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		ID:               t.ID,
		QueriedTraitKeys: make([]string, 0, len(t.queriedTraitKeys)),
		UsedStudyIDs:     make([]int64, 0, len(t.usedStudyIDs)),
		QueriedPairKeys:  make([]string, 0, len(t.queriedPairKeys)),
	}

	for key := range t.queriedTraitKeys {
		s.QueriedTraitKeys = append(s.QueriedTraitKeys, key)
	}
	for id := range t.usedStudyIDs {
		s.UsedStudyIDs = append(s.UsedStudyIDs, id)
	}
	for pair := range t.queriedPairKeys {
		s.QueriedPairKeys = append(s.QueriedPairKeys, pair)
	}

	sort.Strings(s.QueriedTraitKeys)
	slices.Sort(s.UsedStudyIDs)
	sort.Strings(s.QueriedPairKeys)

	return s
}
