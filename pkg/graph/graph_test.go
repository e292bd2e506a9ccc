package graph

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/identity"
)

type fakeDataset struct {
	heritability []common.StudyHeritability
	correlations []common.StudyCorrelation
	loadErr      error
}

func (f *fakeDataset) EnsureLoaded(ctx context.Context) error {
	return f.loadErr
}

func (f *fakeDataset) Heritability() []common.StudyHeritability {
	return f.heritability
}

func (f *fakeDataset) Correlations() []common.StudyCorrelation {
	return f.correlations
}

func (f *fakeDataset) SnapshotID() string {
	return "snapshot-test"
}

func h2Row(id int64, trait string, h2, se float64) common.StudyHeritability {
	record := common.StudyHeritability{
		StudyID:  id,
		Trait:    trait,
		TraitKey: common.CanonicalTrait(trait),
		H2:       common.NewStat(h2),
		H2SE:     common.NewStat(se),
	}
	if se > 0 {
		record.H2Z = common.NewStat(h2 / se)
	}
	return record
}

func rgRow(a, b int64, rg, se float64) common.StudyCorrelation {
	record := common.StudyCorrelation{
		StudyA: a,
		StudyB: b,
		RG:     common.NewStat(rg),
		RGSE:   common.NewStat(se),
	}
	if se > 0 {
		record.RGZ = common.NewStat(rg / se)
	}
	return record
}

// newTestService builds a service over a small dataset centered on
// Trait_A:
//
//   - Trait_A has two identical studies (1 and 6).
//   - Trait_X is measured by study 2 plus study 7 with a missing h2.
//   - Trait_Z's only study has se = 0, so its node stays undefined.
//   - Trait_W's correlation is too weak to pass the default rg cutoff.
//   - Trait_U and Trait_V tie with Trait_X on score; the A-X edge has
//     two correlation records, the others one.
//   - One correlation is a self loop (studies 1 and 6) and one points
//     at a study id that does not exist.
func newTestService(t *testing.T) *Service {
	t.Helper()

	missingH2 := common.StudyHeritability{
		StudyID:  7,
		Trait:    "Trait_X",
		TraitKey: "Trait_X",
		H2SE:     common.NewStat(0.02),
	}

	ds := &fakeDataset{
		heritability: []common.StudyHeritability{
			h2Row(1, "Trait_A", 0.40, 0.05),
			h2Row(2, "Trait_X", 0.20, 0.02),
			h2Row(3, "Trait_Y", 0.60, 0.06),
			h2Row(4, "Trait_Z", 0.50, 0),
			h2Row(5, "Trait_W", 0.30, 0.03),
			h2Row(6, "Trait_A", 0.40, 0.05),
			missingH2,
			h2Row(8, "Trait_V", 0.20, 0.02),
			h2Row(9, "Trait_U", 0.20, 0.02),
		},
		correlations: []common.StudyCorrelation{
			rgRow(1, 2, 0.5, 0.05),
			rgRow(1, 2, 0.5, 0.05),
			rgRow(1, 3, 0.3, 0.03),
			rgRow(1, 4, 0.9, 0.05),
			rgRow(1, 5, 0.5, 0.20),
			rgRow(1, 6, 0.8, 0.10),
			rgRow(1, 99, 0.7, 0.10),
			rgRow(2, 3, 0.2, 0.04),
			rgRow(1, 8, 0.5, 0.05),
			rgRow(1, 9, 0.5, 0.05),
		},
	}

	svc, err := NewService(Params{Dataset: ds})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func findNeighbor(t *testing.T, neighbors []common.Neighbor, key string) common.Neighbor {
	t.Helper()
	for _, neighbor := range neighbors {
		if neighbor.Node.Key == key {
			return neighbor
		}
	}
	t.Fatalf("neighbor %q not found", key)
	return common.Neighbor{}
}

func TestGetTraitNodeCombinesStudies(t *testing.T) {
	svc := newTestService(t)

	node, err := svc.GetTraitNode(context.Background(), "Trait_A")
	if err != nil {
		t.Fatalf("GetTraitNode() error = %v", err)
	}

	if !node.HasH2 {
		t.Fatal("GetTraitNode().HasH2 = false, want true")
	}
	if node.StudyCount != 2 {
		t.Errorf("GetTraitNode().StudyCount = %d, want 2", node.StudyCount)
	}
	if math.Abs(node.H2Meta-0.40) > 1e-9 {
		t.Errorf("GetTraitNode().H2Meta = %v, want 0.40", node.H2Meta)
	}
	if math.Abs(node.H2SEMeta-0.0353553391) > 1e-9 {
		t.Errorf("GetTraitNode().H2SEMeta = %v, want 0.0353553391", node.H2SEMeta)
	}
	if math.Abs(node.H2ZMeta-11.3137084990) > 1e-8 {
		t.Errorf("GetTraitNode().H2ZMeta = %v, want 11.3137084990", node.H2ZMeta)
	}
	if len(node.Provenance) != 2 {
		t.Errorf("GetTraitNode() provenance has %d entries, want 2", len(node.Provenance))
	}
}

func TestGetTraitNodeSingleStudy(t *testing.T) {
	svc := newTestService(t)

	node, err := svc.GetTraitNode(context.Background(), "Trait_Y")
	if err != nil {
		t.Fatalf("GetTraitNode() error = %v", err)
	}

	if math.Abs(node.H2Meta-0.60) > 1e-12 {
		t.Errorf("GetTraitNode().H2Meta = %v, want the study's own 0.60", node.H2Meta)
	}
	if math.Abs(node.H2SEMeta-0.06) > 1e-12 {
		t.Errorf("GetTraitNode().H2SEMeta = %v, want the study's own 0.06", node.H2SEMeta)
	}
	if math.Abs(node.H2ZMeta-10.0) > 1e-9 {
		t.Errorf("GetTraitNode().H2ZMeta = %v, want 10.0", node.H2ZMeta)
	}
}

func TestGetTraitNodeUndefinedStats(t *testing.T) {
	svc := newTestService(t)

	node, err := svc.GetTraitNode(context.Background(), "Trait_Z")
	if err != nil {
		t.Fatalf("GetTraitNode() error = %v", err)
	}

	if node.HasH2 {
		t.Error("GetTraitNode().HasH2 = true, want false for a trait with no valid records")
	}
	if node.StudyCount != 0 {
		t.Errorf("GetTraitNode().StudyCount = %d, want 0", node.StudyCount)
	}
	if len(node.Provenance) != 1 {
		t.Fatalf("GetTraitNode() provenance has %d entries, want 1", len(node.Provenance))
	}
	entry := node.Provenance[0]
	if !entry.Excluded {
		t.Error("provenance entry not marked excluded")
	}
	if entry.Reason != "h2 standard error not positive" {
		t.Errorf("provenance reason = %q, want %q", entry.Reason, "h2 standard error not positive")
	}
}

func TestGetTraitNodeKeepsExcludedProvenance(t *testing.T) {
	svc := newTestService(t)

	node, err := svc.GetTraitNode(context.Background(), "Trait_X")
	if err != nil {
		t.Fatalf("GetTraitNode() error = %v", err)
	}

	if node.StudyCount != 1 {
		t.Errorf("GetTraitNode().StudyCount = %d, want 1", node.StudyCount)
	}
	if len(node.Provenance) != 2 {
		t.Fatalf("GetTraitNode() provenance has %d entries, want 2", len(node.Provenance))
	}
	if node.Provenance[0].Excluded {
		t.Error("valid record marked excluded")
	}
	if !node.Provenance[1].Excluded {
		t.Error("record with missing h2 not marked excluded")
	}
	if node.Provenance[1].Reason != "h2 estimate missing" {
		t.Errorf("provenance reason = %q, want %q", node.Provenance[1].Reason, "h2 estimate missing")
	}
	if math.Abs(node.H2Meta-0.20) > 1e-12 {
		t.Errorf("GetTraitNode().H2Meta = %v, want 0.20 from the single valid record", node.H2Meta)
	}
}

func TestGetTraitNodeNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetTraitNode(context.Background(), "Trait_Missing")
	var notFound *identity.TraitNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("GetTraitNode() error = %v, want *identity.TraitNotFoundError", err)
	}
}

func TestGetNeighborsOrderAndExclusions(t *testing.T) {
	svc := newTestService(t)

	neighbors, err := svc.GetNeighbors(context.Background(), "Trait_A")
	if err != nil {
		t.Fatalf("GetNeighbors() error = %v", err)
	}

	got := make([]string, 0, len(neighbors))
	for _, neighbor := range neighbors {
		got = append(got, neighbor.Node.Key)
	}
	want := []string{"Trait_U", "Trait_V", "Trait_W", "Trait_X", "Trait_Y", "Trait_Z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetNeighbors() keys = %v, want %v", got, want)
	}

	for _, neighbor := range neighbors {
		if neighbor.Node.Key == "Trait_A" {
			t.Error("self loop survived into the neighbor list")
		}
		if neighbor.Edge.Source == neighbor.Edge.Target {
			t.Errorf("edge %s-%s is a self loop", neighbor.Edge.Source, neighbor.Edge.Target)
		}
		if neighbor.Edge.Source > neighbor.Edge.Target {
			t.Errorf("edge endpoints %s-%s not in lexicographic order", neighbor.Edge.Source, neighbor.Edge.Target)
		}
	}
}

func TestGetNeighborsCombinesEdgeRecords(t *testing.T) {
	svc := newTestService(t)

	neighbors, err := svc.GetNeighbors(context.Background(), "Trait_A")
	if err != nil {
		t.Fatalf("GetNeighbors() error = %v", err)
	}

	edge := findNeighbor(t, neighbors, "Trait_X").Edge
	if edge.CorrelationCount != 2 {
		t.Errorf("A-X edge CorrelationCount = %d, want 2", edge.CorrelationCount)
	}
	if math.Abs(edge.RGMeta-0.5) > 1e-12 {
		t.Errorf("A-X edge RGMeta = %v, want 0.5", edge.RGMeta)
	}
	if math.Abs(edge.RGZMeta-14.1421356237) > 1e-8 {
		t.Errorf("A-X edge RGZMeta = %v, want 14.1421356237", edge.RGZMeta)
	}
	if len(edge.Provenance) != 2 {
		t.Errorf("A-X edge provenance has %d entries, want 2", len(edge.Provenance))
	}
}

func TestNeighborSymmetry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	fromA, err := svc.GetNeighbors(ctx, "Trait_A")
	if err != nil {
		t.Fatalf("GetNeighbors(Trait_A) error = %v", err)
	}
	fromX, err := svc.GetNeighbors(ctx, "Trait_X")
	if err != nil {
		t.Fatalf("GetNeighbors(Trait_X) error = %v", err)
	}

	edgeFromA := findNeighbor(t, fromA, "Trait_X").Edge
	edgeFromX := findNeighbor(t, fromX, "Trait_A").Edge

	if !reflect.DeepEqual(edgeFromA, edgeFromX) {
		t.Errorf("edge seen from A = %+v, from X = %+v; want identical", edgeFromA, edgeFromX)
	}
}

func TestGetPrioritizedNeighbors(t *testing.T) {
	svc := newTestService(t)

	neighbors, err := svc.GetPrioritizedNeighbors(context.Background(), "Trait_A", 0, 0)
	if err != nil {
		t.Fatalf("GetPrioritizedNeighbors() error = %v", err)
	}

	got := make([]string, 0, len(neighbors))
	for _, neighbor := range neighbors {
		got = append(got, neighbor.Node.Key)
	}

	// Trait_Y wins on score (0.3² × 0.6 = 0.054 over 0.5² × 0.2 = 0.05);
	// the three 0.05 ties order by correlation count, then key.
	want := []string{"Trait_Y", "Trait_X", "Trait_U", "Trait_V"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetPrioritizedNeighbors() keys = %v, want %v", got, want)
	}

	if math.Abs(neighbors[0].Score-0.054) > 1e-9 {
		t.Errorf("Trait_Y score = %v, want 0.054", neighbors[0].Score)
	}
	if math.Abs(neighbors[1].Score-0.05) > 1e-9 {
		t.Errorf("Trait_X score = %v, want 0.05", neighbors[1].Score)
	}
}

func TestGetPrioritizedNeighborsFilters(t *testing.T) {
	svc := newTestService(t)

	neighbors, err := svc.GetPrioritizedNeighbors(context.Background(), "Trait_A", 0, 0)
	if err != nil {
		t.Fatalf("GetPrioritizedNeighbors() error = %v", err)
	}

	for _, neighbor := range neighbors {
		if neighbor.Node.Key == "Trait_Z" {
			t.Error("neighbor without defined h2 survived prioritization despite its extreme rg z")
		}
		if neighbor.Node.Key == "Trait_W" {
			t.Error("neighbor below the rg z cutoff survived prioritization")
		}
	}
}

func TestGetPrioritizedNeighborsThresholdOverride(t *testing.T) {
	svc := newTestService(t)

	neighbors, err := svc.GetPrioritizedNeighbors(context.Background(), "Trait_A", 2.0, 0)
	if err != nil {
		t.Fatalf("GetPrioritizedNeighbors() error = %v", err)
	}

	// With the rg cutoff lowered to 2, Trait_W (rg z = 2.5) enters and
	// its score 0.5² × 0.3 = 0.075 tops the list.
	got := make([]string, 0, len(neighbors))
	for _, neighbor := range neighbors {
		got = append(got, neighbor.Node.Key)
	}
	want := []string{"Trait_W", "Trait_Y", "Trait_X", "Trait_U", "Trait_V"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetPrioritizedNeighbors() keys = %v, want %v", got, want)
	}
}

func TestGetPrioritizedNeighborsEmpty(t *testing.T) {
	svc := newTestService(t)

	neighbors, err := svc.GetPrioritizedNeighbors(context.Background(), "Trait_A", 0, 20.0)
	if err != nil {
		t.Fatalf("GetPrioritizedNeighbors() error = %v", err)
	}
	if len(neighbors) != 0 {
		t.Errorf("GetPrioritizedNeighbors() returned %d neighbors, want 0", len(neighbors))
	}
}

func TestGetTraitCentricGraph(t *testing.T) {
	svc := newTestService(t)

	neighborhood, err := svc.GetTraitCentricGraph(context.Background(), "Trait_A")
	if err != nil {
		t.Fatalf("GetTraitCentricGraph() error = %v", err)
	}

	if neighborhood.SnapshotID != "snapshot-test" {
		t.Errorf("SnapshotID = %q, want %q", neighborhood.SnapshotID, "snapshot-test")
	}
	if neighborhood.Center.Key != "Trait_A" {
		t.Errorf("Center.Key = %q, want Trait_A", neighborhood.Center.Key)
	}
	if len(neighborhood.Neighbors) != 4 {
		t.Errorf("got %d neighbors, want 4", len(neighborhood.Neighbors))
	}
}

func TestQueriesAreIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetTraitCentricGraph(ctx, "Trait_A")
	if err != nil {
		t.Fatalf("GetTraitCentricGraph() error = %v", err)
	}
	second, err := svc.GetTraitCentricGraph(ctx, "Trait_A")
	if err != nil {
		t.Fatalf("GetTraitCentricGraph() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("repeated queries on an unchanged dataset returned different results")
	}
}

func TestResolveTraitKeyThroughService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "exact key",
			query: "Trait_A",
			want:  "Trait_A",
		},
		{
			name:  "case insensitive",
			query: "trait_a",
			want:  "Trait_A",
		},
		{
			name:  "fuzzy without underscore",
			query: "trait a",
			want:  "Trait_A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ResolveTraitKey(ctx, tt.query)
			if err != nil {
				t.Fatalf("ResolveTraitKey(%q) error = %v", tt.query, err)
			}
			if got != tt.want {
				t.Errorf("ResolveTraitKey(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestWarmPrecomputesEverything(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}

	svc.mu.RLock()
	defer svc.mu.RUnlock()

	if len(svc.nodes) != 7 {
		t.Errorf("Warm() cached %d nodes, want 7", len(svc.nodes))
	}
	if len(svc.edges) != 7 {
		t.Errorf("Warm() cached %d edges, want 7", len(svc.edges))
	}
	for pair, edge := range svc.edges {
		if edge.Source >= edge.Target {
			t.Errorf("edge %q endpoints out of order: %s-%s", pair, edge.Source, edge.Target)
		}
	}
}

func TestLoadErrorPropagates(t *testing.T) {
	wantErr := errors.New("table unreadable")
	svc, err := NewService(Params{Dataset: &fakeDataset{loadErr: wantErr}})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	_, err = svc.GetTraitNode(context.Background(), "anything")
	if !errors.Is(err, wantErr) {
		t.Errorf("GetTraitNode() error = %v, want %v", err, wantErr)
	}
}

func TestNewServiceRequiresDataset(t *testing.T) {
	if _, err := NewService(Params{}); err == nil {
		t.Error("NewService() with nil dataset returned no error")
	}
}
