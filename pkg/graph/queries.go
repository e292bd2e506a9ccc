package graph

import (
	"context"
	"math"
	"sort"

	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/identity"
)

// GetTraitNode returns the node for a canonical trait key. The key
// must be exact up to whitespace; free-text names go through
// ResolveTraitKey first.
func (s *Service) GetTraitNode(ctx context.Context, key string) (*common.TraitNode, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}

	key = common.CanonicalTrait(key)
	if _, ok := s.nodeGroups[key]; !ok {
		return nil, &identity.TraitNotFoundError{Name: key}
	}

	return s.nodeFor(key), nil
}

// GetNeighbors returns every trait connected to the given one by at
// least one correlation record, each paired with the connecting edge.
// Neighbors are ordered by trait key so repeated calls are identical.
func (s *Service) GetNeighbors(ctx context.Context, key string) ([]common.Neighbor, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}

	key = common.CanonicalTrait(key)
	if _, ok := s.nodeGroups[key]; !ok {
		return nil, &identity.TraitNotFoundError{Name: key}
	}

	adjacent := s.adjacency[key]
	neighbors := make([]common.Neighbor, 0, len(adjacent))
	for _, neighborKey := range adjacent {
		neighbors = append(neighbors, common.Neighbor{
			Node: s.nodeFor(neighborKey),
			Edge: s.edgeFor(PairKey(key, neighborKey)),
		})
	}

	return neighbors, nil
}

// GetPrioritizedNeighbors returns the neighbors worth following as
// proxy traits: the correlation must clear the rg z cutoff, the
// neighbor must have a defined heritability clearing the h2 z cutoff,
// and survivors are ranked by rg_meta² × h2_meta. Thresholds at or
// below zero fall back to the service defaults. Ties rank the edge
// with more correlation records first, then the smaller trait key.
func (s *Service) GetPrioritizedNeighbors(ctx context.Context, key string, rgZThreshold, h2ZThreshold float64) ([]common.Neighbor, error) {
	if rgZThreshold <= 0 {
		rgZThreshold = s.rgZThreshold
	}
	if h2ZThreshold <= 0 {
		h2ZThreshold = s.h2ZThreshold
	}

	neighbors, err := s.GetNeighbors(ctx, key)
	if err != nil {
		return nil, err
	}

	prioritized := make([]common.Neighbor, 0, len(neighbors))
	for _, neighbor := range neighbors {
		if !neighbor.Edge.HasRG || math.Abs(neighbor.Edge.RGZMeta) <= rgZThreshold {
			continue
		}
		if !neighbor.Node.HasH2 || neighbor.Node.H2ZMeta <= h2ZThreshold {
			continue
		}
		neighbor.Score = proxyScore(neighbor.Edge, neighbor.Node)
		prioritized = append(prioritized, neighbor)
	}

	sort.Slice(prioritized, func(i, j int) bool {
		a, b := prioritized[i], prioritized[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Edge.CorrelationCount != b.Edge.CorrelationCount {
			return a.Edge.CorrelationCount > b.Edge.CorrelationCount
		}
		return a.Node.Key < b.Node.Key
	})

	return prioritized, nil
}

// GetTraitCentricGraph returns the trait's node together with its
// prioritized neighbors under the service default thresholds, tagged
// with the dataset snapshot id.
func (s *Service) GetTraitCentricGraph(ctx context.Context, key string) (*common.TraitNeighborhood, error) {
	center, err := s.GetTraitNode(ctx, key)
	if err != nil {
		return nil, err
	}

	neighbors, err := s.GetPrioritizedNeighbors(ctx, center.Key, s.rgZThreshold, s.h2ZThreshold)
	if err != nil {
		return nil, err
	}

	return &common.TraitNeighborhood{
		SnapshotID: s.dataset.SnapshotID(),
		Center:     center,
		Neighbors:  neighbors,
	}, nil
}

// proxyScore weighs how useful a neighbor is as a proxy for the
// center trait: the shared genetic signal (rg_meta squared) scaled by
// how heritable the neighbor itself is.
func proxyScore(edge *common.CorrelationEdge, node *common.TraitNode) float64 {
	return edge.RGMeta * edge.RGMeta * node.H2Meta
}
