package common

import "strings"

// CanonicalTrait turns a published trait name into its canonical key
// form: leading and trailing whitespace trimmed, internal whitespace
// runs collapsed to single spaces, casing preserved.
func CanonicalTrait(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Stat is a single numeric cell parsed from a summary-statistics table.
// Valid is false when the cell was empty, non-numeric, NA, or infinite;
// Value is meaningless in that case and must not be read as zero.
type Stat struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// NewStat wraps a known-good number in a Stat.
func NewStat(value float64) Stat {
	return Stat{Value: value, Valid: true}
}

// StudyHeritability is one row of the heritability table: a single
// GWAS study's SNP-heritability estimate for one published trait.
// StudyID is unique within a dataset; TraitKey is the canonical form
// of Trait assigned at load time and shared by all studies of the
// same trait.
type StudyHeritability struct {
	StudyID    int64  `json:"study_id"`
	Trait      string `json:"trait"`
	TraitKey   string `json:"trait_key"`
	Population string `json:"population,omitempty"`
	SampleSize int64  `json:"sample_size,omitempty"`
	H2         Stat   `json:"h2"`
	H2SE       Stat   `json:"h2_se"`
	H2Z        Stat   `json:"h2_z"`
}

// StudyCorrelation is one row of the genetic-correlation table: the
// estimated genetic correlation between two studies' phenotypes.
// The pair is unordered; StudyA/StudyB reflect the input file, not a
// direction.
type StudyCorrelation struct {
	StudyA int64 `json:"study_a"`
	StudyB int64 `json:"study_b"`
	RG     Stat  `json:"rg"`
	RGSE   Stat  `json:"rg_se"`
	RGZ    Stat  `json:"rg_z"`
	RGP    Stat  `json:"rg_p"`
}

// TraitNode is a node in the trait graph: one distinct trait with its
// heritability estimates combined across all studies of that trait by
// a fixed-effect meta-analysis.
//
// A trait whose studies all fail the validity filter still gets a
// node; HasH2 is false then and the meta fields are undefined.
// Provenance lists every contributing study in input order, including
// the excluded ones.
type TraitNode struct {
	Key        string       `json:"key"`
	H2Meta     float64      `json:"h2_meta"`
	H2SEMeta   float64      `json:"h2_se_meta"`
	H2ZMeta    float64      `json:"h2_z_meta"`
	H2PMeta    float64      `json:"h2_p_meta"`
	HasH2      bool         `json:"has_h2"`
	StudyCount int          `json:"study_count"`
	Provenance []NodeSource `json:"provenance"`
}

// NodeSource is a provenance record linking a trait node back to one
// heritability row. Excluded rows stay listed with the reason they
// did not contribute to the combined estimate.
type NodeSource struct {
	Record   *StudyHeritability `json:"record"`
	Excluded bool               `json:"excluded,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// CorrelationEdge is an undirected edge between two trait nodes,
// carrying the genetic correlation combined across every study pair
// that links the two traits. Source and Target are trait keys held in
// lexicographic order so each unordered pair has exactly one edge.
type CorrelationEdge struct {
	Source           string       `json:"source"`
	Target           string       `json:"target"`
	RGMeta           float64      `json:"rg_meta"`
	RGSEMeta         float64      `json:"rg_se_meta"`
	RGZMeta          float64      `json:"rg_z_meta"`
	RGPMeta          float64      `json:"rg_p_meta"`
	HasRG            bool         `json:"has_rg"`
	CorrelationCount int          `json:"correlation_count"`
	Provenance       []EdgeSource `json:"provenance"`
}

// EdgeSource is a provenance record linking an edge back to one
// correlation row.
type EdgeSource struct {
	Record   *StudyCorrelation `json:"record"`
	Excluded bool              `json:"excluded,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// Other returns the trait key on the far side of the edge from key.
// It returns the empty string when key is not an endpoint.
func (e *CorrelationEdge) Other(key string) string {
	switch key {
	case e.Source:
		return e.Target
	case e.Target:
		return e.Source
	}
	return ""
}

// Neighbor pairs an edge with the trait node on its far side. Score
// is populated by prioritized queries and zero otherwise.
type Neighbor struct {
	Node  *TraitNode       `json:"node"`
	Edge  *CorrelationEdge `json:"edge"`
	Score float64          `json:"score"`
}

// TraitNeighborhood is a trait-centric view of the graph: the center
// node plus its prioritized neighbors. SnapshotID identifies the
// loaded dataset so identical queries can be tied to identical
// results.
type TraitNeighborhood struct {
	SnapshotID string     `json:"snapshot_id"`
	Center     *TraitNode `json:"center"`
	Neighbors  []Neighbor `json:"neighbors"`
}
