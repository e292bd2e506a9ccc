package graph

import (
	"sort"

	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/logger"
	"github.com/phenoproxy/traitgraph/pkg/meta"
)

// PairKey canonicalizes an unordered trait pair so both orientations
// land on the same edge.
func PairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// buildGroups runs the one-time grouping pass: heritability records
// by trait key, correlation records by unordered trait pair, plus the
// adjacency lists queries walk. Correlation records that reference an
// unknown study or collapse onto a single trait carry no usable edge
// and are dropped here, counted but not surfaced as errors.
func (s *Service) buildGroups() {
	heritability := s.dataset.Heritability()
	nodeGroups := make(map[string][]*common.StudyHeritability)
	for i := range heritability {
		record := &heritability[i]
		nodeGroups[record.TraitKey] = append(nodeGroups[record.TraitKey], record)
	}

	correlations := s.dataset.Correlations()
	edgeGroups := make(map[string][]*common.StudyCorrelation)
	pairs := make(map[string][2]string)
	unknownStudy := 0
	selfLoops := 0

	for i := range correlations {
		record := &correlations[i]

		keyA, err := s.index.TraitNameForStudy(record.StudyA)
		if err != nil {
			unknownStudy++
			continue
		}
		keyB, err := s.index.TraitNameForStudy(record.StudyB)
		if err != nil {
			unknownStudy++
			continue
		}
		if keyA == keyB {
			selfLoops++
			continue
		}

		pair := PairKey(keyA, keyB)
		if _, ok := pairs[pair]; !ok {
			if keyA < keyB {
				pairs[pair] = [2]string{keyA, keyB}
			} else {
				pairs[pair] = [2]string{keyB, keyA}
			}
		}
		edgeGroups[pair] = append(edgeGroups[pair], record)
	}

	adjacency := make(map[string][]string)
	for pair := range edgeGroups {
		endpoints := pairs[pair]
		adjacency[endpoints[0]] = append(adjacency[endpoints[0]], endpoints[1])
		adjacency[endpoints[1]] = append(adjacency[endpoints[1]], endpoints[0])
	}
	for key := range adjacency {
		sort.Strings(adjacency[key])
	}

	s.nodeGroups = nodeGroups
	s.edgeGroups = edgeGroups
	s.pairs = pairs
	s.adjacency = adjacency

	logger.Debug("[Graph] Grouped study records",
		"traits", len(nodeGroups),
		"pairs", len(edgeGroups),
		"unknown_study", unknownStudy,
		"self_loops", selfLoops,
	)
}

// nodeFor returns the memoized node for a trait key, computing it on
// first use. Concurrent first callers share one computation. The key
// must exist in nodeGroups.
func (s *Service) nodeFor(key string) *common.TraitNode {
	s.mu.RLock()
	node, ok := s.nodes[key]
	s.mu.RUnlock()
	if ok {
		return node
	}

	result, _, _ := s.flight.Do("node:"+key, func() (any, error) {
		s.mu.RLock()
		node, ok := s.nodes[key]
		s.mu.RUnlock()
		if ok {
			return node, nil
		}

		node = s.buildNode(key)

		s.mu.Lock()
		s.nodes[key] = node
		s.mu.Unlock()

		return node, nil
	})

	return result.(*common.TraitNode)
}

// edgeFor returns the memoized edge for a pair key, computing it on
// first use. The pair must exist in edgeGroups.
func (s *Service) edgeFor(pair string) *common.CorrelationEdge {
	s.mu.RLock()
	edge, ok := s.edges[pair]
	s.mu.RUnlock()
	if ok {
		return edge
	}

	result, _, _ := s.flight.Do("edge:"+pair, func() (any, error) {
		s.mu.RLock()
		edge, ok := s.edges[pair]
		s.mu.RUnlock()
		if ok {
			return edge, nil
		}

		edge = s.buildEdge(pair)

		s.mu.Lock()
		s.edges[pair] = edge
		s.mu.Unlock()

		return edge, nil
	})

	return result.(*common.CorrelationEdge)
}

// buildNode combines one trait's heritability records. Records that
// fail the validity rule stay in the provenance, marked with the
// reason; a trait whose records all fail still yields a node with
// undefined statistics.
func (s *Service) buildNode(key string) *common.TraitNode {
	group := s.nodeGroups[key]

	node := &common.TraitNode{
		Key:        key,
		Provenance: make([]common.NodeSource, 0, len(group)),
	}

	values := make([]float64, 0, len(group))
	ses := make([]float64, 0, len(group))
	for _, record := range group {
		if !statsValid(record.H2, record.H2SE) {
			node.Provenance = append(node.Provenance, common.NodeSource{
				Record:   record,
				Excluded: true,
				Reason:   excludeReason("h2", record.H2, record.H2SE),
			})
			continue
		}
		node.Provenance = append(node.Provenance, common.NodeSource{Record: record})
		values = append(values, record.H2.Value)
		ses = append(ses, record.H2SE.Value)
	}

	result := meta.Combine(values, ses)
	node.StudyCount = result.Used
	if result.Used > 0 {
		node.H2Meta = result.Value
		node.H2SEMeta = result.SE
		node.H2ZMeta = result.Z
		node.H2PMeta = result.P
		node.HasH2 = true
	}

	return node
}

// buildEdge combines one trait pair's correlation records with the
// same validity rule and meta-analysis the nodes use.
func (s *Service) buildEdge(pair string) *common.CorrelationEdge {
	group := s.edgeGroups[pair]
	endpoints := s.pairs[pair]

	edge := &common.CorrelationEdge{
		Source:     endpoints[0],
		Target:     endpoints[1],
		Provenance: make([]common.EdgeSource, 0, len(group)),
	}

	values := make([]float64, 0, len(group))
	ses := make([]float64, 0, len(group))
	for _, record := range group {
		if !statsValid(record.RG, record.RGSE) {
			edge.Provenance = append(edge.Provenance, common.EdgeSource{
				Record:   record,
				Excluded: true,
				Reason:   excludeReason("rg", record.RG, record.RGSE),
			})
			continue
		}
		edge.Provenance = append(edge.Provenance, common.EdgeSource{Record: record})
		values = append(values, record.RG.Value)
		ses = append(ses, record.RGSE.Value)
	}

	result := meta.Combine(values, ses)
	edge.CorrelationCount = result.Used
	if result.Used > 0 {
		edge.RGMeta = result.Value
		edge.RGSEMeta = result.SE
		edge.RGZMeta = result.Z
		edge.RGPMeta = result.P
		edge.HasRG = true
	}

	return edge
}

func statsValid(estimate, se common.Stat) bool {
	return estimate.Valid && se.Valid && meta.Valid(estimate.Value, se.Value)
}

func excludeReason(stat string, estimate, se common.Stat) string {
	switch {
	case !estimate.Valid:
		return stat + " estimate missing"
	case !se.Valid:
		return stat + " standard error missing"
	case se.Value <= 0:
		return stat + " standard error not positive"
	}
	return stat + " estimate not finite"
}
