// Package toolkit exposes the trait graph as a set of agent-callable
// tools: named operations with JSON Schema parameters and markdown
// results. The package contains no model client; an external agent
// loop decides when to call which tool and feeds the output back.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/graph"
	"github.com/phenoproxy/traitgraph/pkg/identity"
	"github.com/phenoproxy/traitgraph/pkg/logger"
)

// ToolHandler executes one tool call. The argument payload is the raw
// JSON string from the agent loop; the return value is markdown meant
// to be fed back verbatim.
type ToolHandler func(ctx context.Context, args string) (string, error)

// Tool describes one callable operation over the trait graph.
type Tool struct {
	Name        string      // Unique identifier for the tool
	Description string      // What the tool does, written for the agent
	Parameters  any         // JSON Schema for the argument payload
	Handler     ToolHandler // Function to execute when the tool is called
}

// defaultNeighborLimit bounds the list tools render when the caller
// does not pass a limit. The underlying queries are unbounded.
const defaultNeighborLimit = 25

type traitArgs struct {
	Trait string `json:"trait" jsonschema:"description=Trait name to look up. Free text is resolved to the closest catalog trait." validate:"required"`
}

type neighborsArgs struct {
	Trait string `json:"trait" jsonschema:"description=Trait whose correlated traits to list. Free text is resolved to the closest catalog trait." validate:"required"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of neighbors to render (default 25)." validate:"omitempty,min=1"`
}

type prioritizedArgs struct {
	Trait        string  `json:"trait" jsonschema:"description=Trait whose proxy candidates to list. Free text is resolved to the closest catalog trait." validate:"required"`
	RGZThreshold float64 `json:"rg_z_threshold,omitempty" jsonschema:"description=Correlation significance cutoff on |z| (default 4.0)." validate:"omitempty,gt=0"`
	H2ZThreshold float64 `json:"h2_z_threshold,omitempty" jsonschema:"description=Neighbor heritability significance cutoff on z (default 4.0)." validate:"omitempty,gt=0"`
	Limit        int     `json:"limit,omitempty" jsonschema:"description=Maximum number of neighbors to render (default 25)." validate:"omitempty,min=1"`
}

// GetToolList returns the tools an agent loop needs to explore the
// trait graph: single-node lookup, the raw neighborhood, the filtered
// and ranked proxy candidates, and the snapshot-tagged overview. Every
// call is recorded into the tracer, including the keys and study ids
// the answer was built from.
func GetToolList(service *graph.Service, trace graph.Tracer) []Tool {
	return []Tool{
		traced(toolGetTraitNode(service, trace), trace),
		traced(toolGetTraitNeighbors(service, trace), trace),
		traced(toolGetPrioritizedNeighbors(service, trace), trace),
		traced(toolGetTraitCentricGraph(service, trace), trace),
	}
}

// traced wraps a tool handler so every invocation lands in the tracer
// with its arguments, duration, and outcome.
func traced(tool Tool, trace graph.Tracer) Tool {
	if trace == nil {
		return tool
	}

	handler := tool.Handler
	tool.Handler = func(ctx context.Context, args string) (string, error) {
		start := time.Now()
		output, err := handler(ctx, args)

		event := graph.TraceEvent{
			Kind:          graph.TraceEventToolCall,
			ToolName:      tool.Name,
			ToolArguments: args,
			DurationMs:    time.Since(start).Milliseconds(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		trace.Record(event)

		return output, err
	}
	return tool
}

func toolGetTraitNode(service *graph.Service, trace graph.Tracer) Tool {
	return Tool{
		Name:        "get_trait_node",
		Description: "Look up a single trait and its meta-analyzed SNP heritability. Use this to check whether a trait exists in the graph and how heritable it is before exploring its neighborhood.",
		Parameters:  generateSchema(traitArgs{}),
		Handler: func(ctx context.Context, args string) (string, error) {
			var params traitArgs
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			logger.Debug("[Tool] get_trait_node", "trait", params.Trait)

			key, message, err := resolveTrait(ctx, service, trace, params.Trait)
			if err != nil {
				return "", err
			}
			if message != "" {
				return message, nil
			}

			node, err := service.GetTraitNode(ctx, key)
			if err != nil {
				return "", fmt.Errorf("failed to get trait node: %w", err)
			}
			graph.RecordUsedStudyIDs(trace, nodeStudyIDs(node)...)

			var result strings.Builder
			fmt.Fprintf(&result, "## Trait: %s\n", node.Key)
			writeNodeLines(&result, node)
			return result.String(), nil
		},
	}
}

func toolGetTraitNeighbors(service *graph.Service, trace graph.Tracer) Tool {
	return Tool{
		Name:        "get_trait_neighbors",
		Description: "List every trait genetically correlated with the given trait, with the meta-analyzed correlation for each pair. The list is unfiltered; use get_prioritized_neighbors to get proxy candidates.",
		Parameters:  generateSchema(neighborsArgs{}),
		Handler: func(ctx context.Context, args string) (string, error) {
			var params neighborsArgs
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			logger.Debug("[Tool] get_trait_neighbors", "trait", params.Trait, "limit", params.Limit)

			key, message, err := resolveTrait(ctx, service, trace, params.Trait)
			if err != nil {
				return "", err
			}
			if message != "" {
				return message, nil
			}

			neighbors, err := service.GetNeighbors(ctx, key)
			if err != nil {
				return "", fmt.Errorf("failed to get neighbors: %w", err)
			}

			var result strings.Builder
			fmt.Fprintf(&result, "## Neighbors of %s\n", key)
			writeNeighborList(&result, neighbors, params.Limit, trace, false)
			return result.String(), nil
		},
	}
}

func toolGetPrioritizedNeighbors(service *graph.Service, trace graph.Tracer) Tool {
	rgZ, h2Z := service.DefaultThresholds()
	return Tool{
		Name: "get_prioritized_neighbors",
		Description: fmt.Sprintf(
			"List traits that qualify as proxies for the given trait: the genetic correlation must clear the rg z cutoff and the neighbor's own heritability must clear the h2 z cutoff (defaults %.1f and %.1f). Ranked by rg_meta^2 x h2_meta.",
			rgZ, h2Z),
		Parameters: generateSchema(prioritizedArgs{}),
		Handler: func(ctx context.Context, args string) (string, error) {
			var params prioritizedArgs
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			logger.Debug("[Tool] get_prioritized_neighbors",
				"trait", params.Trait,
				"rg_z_threshold", params.RGZThreshold,
				"h2_z_threshold", params.H2ZThreshold,
			)

			key, message, err := resolveTrait(ctx, service, trace, params.Trait)
			if err != nil {
				return "", err
			}
			if message != "" {
				return message, nil
			}

			neighbors, err := service.GetPrioritizedNeighbors(ctx, key, params.RGZThreshold, params.H2ZThreshold)
			if err != nil {
				return "", fmt.Errorf("failed to get prioritized neighbors: %w", err)
			}

			var result strings.Builder
			fmt.Fprintf(&result, "## Prioritized neighbors of %s\n", key)
			writeNeighborList(&result, neighbors, params.Limit, trace, true)
			return result.String(), nil
		},
	}
}

func toolGetTraitCentricGraph(service *graph.Service, trace graph.Tracer) Tool {
	return Tool{
		Name:        "get_trait_centric_graph",
		Description: "Return the trait's node together with its prioritized neighbors under the default cutoffs, tagged with the dataset snapshot id. Use this to anchor an answer to one data snapshot.",
		Parameters:  generateSchema(traitArgs{}),
		Handler: func(ctx context.Context, args string) (string, error) {
			var params traitArgs
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			logger.Debug("[Tool] get_trait_centric_graph", "trait", params.Trait)

			key, message, err := resolveTrait(ctx, service, trace, params.Trait)
			if err != nil {
				return "", err
			}
			if message != "" {
				return message, nil
			}

			neighborhood, err := service.GetTraitCentricGraph(ctx, key)
			if err != nil {
				return "", fmt.Errorf("failed to get trait-centric graph: %w", err)
			}
			graph.RecordUsedStudyIDs(trace, nodeStudyIDs(neighborhood.Center)...)

			var result strings.Builder
			fmt.Fprintf(&result, "## Trait graph: %s\n", neighborhood.Center.Key)
			fmt.Fprintf(&result, "- snapshot: %s\n\n", neighborhood.SnapshotID)
			result.WriteString("### Center\n")
			writeNodeLines(&result, neighborhood.Center)
			result.WriteString("\n### Prioritized neighbors\n")
			writeNeighborList(&result, neighborhood.Neighbors, 0, trace, true)
			return result.String(), nil
		},
	}
}

// resolveTrait maps free-text input to a canonical trait key. Outcomes
// the agent can act on by itself (unknown trait, ambiguous name) come
// back as rendered output instead of an error so the loop keeps going.
func resolveTrait(ctx context.Context, service *graph.Service, trace graph.Tracer, name string) (key, message string, err error) {
	key, err = service.ResolveTraitKey(ctx, name)
	if err == nil {
		graph.RecordQueriedTraitKeys(trace, key)
		return key, "", nil
	}

	var ambiguous *identity.AmbiguousTraitNameError
	if errors.As(err, &ambiguous) {
		var b strings.Builder
		b.WriteString("## Trait resolution\n")
		fmt.Fprintf(&b, "%q matches several traits equally well. Call the tool again with one of:\n", name)
		for i, candidate := range ambiguous.Candidates {
			fmt.Fprintf(&b, "%d. %s\n", i+1, candidate)
		}
		return "", b.String(), nil
	}

	var notFound *identity.TraitNotFoundError
	if errors.As(err, &notFound) {
		return "", fmt.Sprintf("## Trait resolution\nNo trait found matching %q.\n", name), nil
	}

	return "", "", err
}

func writeNodeLines(b *strings.Builder, node *common.TraitNode) {
	if !node.HasH2 {
		fmt.Fprintf(b, "- h2_meta: undefined (%d studies, none with a usable estimate)\n", len(node.Provenance))
		return
	}
	fmt.Fprintf(b, "- h2_meta: %.4f (se %.4f, z %.2f, p %.3g)\n", node.H2Meta, node.H2SEMeta, node.H2ZMeta, node.H2PMeta)
	fmt.Fprintf(b, "- studies used: %d of %d\n", node.StudyCount, len(node.Provenance))
}

func writeNeighborList(b *strings.Builder, neighbors []common.Neighbor, limit int, trace graph.Tracer, scored bool) {
	if len(neighbors) == 0 {
		b.WriteString("No neighbors found.\n")
		return
	}

	if limit <= 0 {
		limit = defaultNeighborLimit
	}
	shown := neighbors
	if len(shown) > limit {
		shown = shown[:limit]
	}

	keys := make([]string, 0, len(shown))
	pairs := make([]string, 0, len(shown))
	var studyIDs []int64
	for i, neighbor := range shown {
		keys = append(keys, neighbor.Node.Key)
		pairs = append(pairs, graph.PairKey(neighbor.Edge.Source, neighbor.Edge.Target))
		studyIDs = append(studyIDs, nodeStudyIDs(neighbor.Node)...)
		studyIDs = append(studyIDs, edgeStudyIDs(neighbor.Edge)...)

		fmt.Fprintf(b, "%d. %s", i+1, neighbor.Node.Key)
		if scored {
			fmt.Fprintf(b, " (score %.4g)", neighbor.Score)
		}
		edge := neighbor.Edge
		if edge.HasRG {
			fmt.Fprintf(b, "; rg_meta %.3f (z %.2f, %d records)", edge.RGMeta, edge.RGZMeta, edge.CorrelationCount)
		} else {
			b.WriteString("; rg_meta undefined")
		}
		node := neighbor.Node
		if node.HasH2 {
			fmt.Fprintf(b, "; h2_meta %.4f (z %.2f)", node.H2Meta, node.H2ZMeta)
		} else {
			b.WriteString("; h2_meta undefined")
		}
		b.WriteString("\n")
	}

	if len(neighbors) > len(shown) {
		fmt.Fprintf(b, "... and %d more (raise limit to see them).\n", len(neighbors)-len(shown))
	}

	graph.RecordQueriedTraitKeys(trace, keys...)
	graph.RecordQueriedPairKeys(trace, pairs...)
	graph.RecordUsedStudyIDs(trace, studyIDs...)
}

func nodeStudyIDs(node *common.TraitNode) []int64 {
	ids := make([]int64, 0, len(node.Provenance))
	for _, source := range node.Provenance {
		if source.Excluded {
			continue
		}
		ids = append(ids, source.Record.StudyID)
	}
	return ids
}

func edgeStudyIDs(edge *common.CorrelationEdge) []int64 {
	ids := make([]int64, 0, 2*len(edge.Provenance))
	for _, source := range edge.Provenance {
		if source.Excluded {
			continue
		}
		ids = append(ids, source.Record.StudyA, source.Record.StudyB)
	}
	return ids
}
