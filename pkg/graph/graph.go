// Package graph derives the trait-level knowledge graph from the
// study-level dataset and answers queries over it. Nodes are distinct
// traits with heritability combined across their studies; edges are
// genetic correlations combined across study pairs. Everything is
// computed in memory, on demand, and memoized; the underlying dataset
// never changes after load, so cached results never invalidate.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/identity"
	"github.com/phenoproxy/traitgraph/pkg/logger"
)

// Dataset is the slice of the dataset loader the graph consumes. It
// is satisfied by the dataset package's Loader. Heritability must
// return records with canonical trait keys already assigned.
type Dataset interface {
	EnsureLoaded(ctx context.Context) error
	Heritability() []common.StudyHeritability
	Correlations() []common.StudyCorrelation
	SnapshotID() string
}

// DefaultRGZThreshold is the default significance cutoff on the
// combined genetic-correlation z score, the conventional |z| > 4
// screen for LDSC correlation estimates.
const DefaultRGZThreshold = 4.0

// DefaultH2ZThreshold is the default significance cutoff on the
// combined heritability z score.
const DefaultH2ZThreshold = 4.0

// warmParallel bounds the goroutines Warm uses to precompute nodes
// and edges.
const warmParallel = 8

// Params configures a Service.
//
// Dataset is required. The thresholds default to DefaultRGZThreshold
// and DefaultH2ZThreshold when zero or negative; SimilarityFloor is
// passed through to the identity index.
type Params struct {
	Dataset         Dataset
	RGZThreshold    float64
	H2ZThreshold    float64
	SimilarityFloor float64
}

// Service answers trait-centric queries over the derived graph. All
// methods are safe for concurrent use. The first query triggers the
// dataset load and the one-time grouping pass; individual nodes and
// edges are computed lazily after that.
type Service struct {
	dataset         Dataset
	rgZThreshold    float64
	h2ZThreshold    float64
	similarityFloor float64

	buildOnce  sync.Once
	index      *identity.Index
	nodeGroups map[string][]*common.StudyHeritability
	edgeGroups map[string][]*common.StudyCorrelation
	pairs      map[string][2]string
	adjacency  map[string][]string

	mu     sync.RWMutex
	nodes  map[string]*common.TraitNode
	edges  map[string]*common.CorrelationEdge
	flight singleflight.Group
}

// NewService creates a Service over a dataset loader. Nothing is
// loaded or computed until the first query or an explicit Warm.
func NewService(params Params) (*Service, error) {
	if params.Dataset == nil {
		return nil, fmt.Errorf("graph: params.Dataset is required")
	}

	rgZ := params.RGZThreshold
	if rgZ <= 0 {
		rgZ = DefaultRGZThreshold
	}
	h2Z := params.H2ZThreshold
	if h2Z <= 0 {
		h2Z = DefaultH2ZThreshold
	}

	return &Service{
		dataset:         params.Dataset,
		rgZThreshold:    rgZ,
		h2ZThreshold:    h2Z,
		similarityFloor: params.SimilarityFloor,
		nodes:           make(map[string]*common.TraitNode),
		edges:           make(map[string]*common.CorrelationEdge),
	}, nil
}

// EnsureReady loads the dataset and runs the one-time grouping pass.
// Queries call it implicitly; it is exposed so callers can front-load
// the cost and surface load errors early.
func (s *Service) EnsureReady(ctx context.Context) error {
	if err := s.dataset.EnsureLoaded(ctx); err != nil {
		return err
	}

	s.buildOnce.Do(func() {
		s.index = identity.NewIndex(s.dataset.Heritability(), identity.Params{
			SimilarityFloor: s.similarityFloor,
		})
		s.buildGroups()
	})

	return nil
}

// ResolveTraitKey resolves a free-text trait name to the canonical
// key the graph is indexed by, exactly first and fuzzily second.
func (s *Service) ResolveTraitKey(ctx context.Context, name string) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}
	return s.index.ResolveTraitKey(name)
}

// TraitNameForStudy returns the canonical trait key a study id maps to.
func (s *Service) TraitNameForStudy(ctx context.Context, id int64) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}
	return s.index.TraitNameForStudy(id)
}

// Keys returns every canonical trait key in sorted order.
func (s *Service) Keys(ctx context.Context) ([]string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return s.index.Keys(), nil
}

// SnapshotID identifies the loaded dataset backing this service.
func (s *Service) SnapshotID(ctx context.Context) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}
	return s.dataset.SnapshotID(), nil
}

// DefaultThresholds returns the prioritization cutoffs the service
// applies when the caller does not override them.
func (s *Service) DefaultThresholds() (rgZ, h2Z float64) {
	return s.rgZThreshold, s.h2ZThreshold
}

// Warm precomputes every node and edge in parallel. Queries work the
// same without it; Warm just moves the cost up front. Node and edge
// construction is pure, so racing with concurrent queries is safe.
func (s *Service) Warm(ctx context.Context) error {
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}

	started := time.Now()

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(warmParallel)

	for key := range s.nodeGroups {
		k := key
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			s.nodeFor(k)
			return nil
		})
	}
	for pair := range s.edgeGroups {
		p := pair
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			s.edgeFor(p)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	logger.Info("[Graph] Warmed caches",
		"nodes", len(s.nodeGroups),
		"edges", len(s.edgeGroups),
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)

	return nil
}
