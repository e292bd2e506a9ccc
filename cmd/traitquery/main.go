package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/phenoproxy/traitgraph/internal/util"
	"github.com/phenoproxy/traitgraph/pkg/dataset"
	"github.com/phenoproxy/traitgraph/pkg/graph"
	"github.com/phenoproxy/traitgraph/pkg/logger"
	"github.com/phenoproxy/traitgraph/pkg/logger/console"
	"github.com/phenoproxy/traitgraph/pkg/toolkit"
)

const defaultTool = "get_prioritized_neighbors"

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.New(console.Params{
		Debug: debug,
	}))

	h2Path := util.GetEnv("TRAITGRAPH_H2_TABLE")
	rgPath := util.GetEnv("TRAITGRAPH_RG_TABLE")
	if h2Path == "" || rgPath == "" {
		logger.Fatal("TRAITGRAPH_H2_TABLE and TRAITGRAPH_RG_TABLE must point at the summary tables")
	}

	loader := dataset.New(dataset.Params{
		HeritabilityPath: h2Path,
		CorrelationPath:  rgPath,
	})

	service, err := graph.NewService(graph.Params{
		Dataset:         loader,
		RGZThreshold:    util.GetEnvNumeric("TRAITGRAPH_RG_Z_THRESHOLD", 0),
		H2ZThreshold:    util.GetEnvNumeric("TRAITGRAPH_H2_Z_THRESHOLD", 0),
		SimilarityFloor: util.GetEnvNumeric("TRAITGRAPH_SIMILARITY_FLOOR", 0),
	})
	if err != nil {
		logger.Fatal("Could not create graph service", "err", err)
	}

	trace := graph.NewQueryTrace()
	tools := toolkit.GetToolList(service, trace)

	fallback := util.GetEnvString("TRAITGRAPH_TOOL", defaultTool)
	toolName, trait := parseArgs(os.Args[1:], tools, fallback)
	if trait == "" {
		printUsage(tools)
		os.Exit(2)
	}

	tool, ok := findTool(tools, toolName)
	if !ok {
		logger.Fatal("Unknown tool", "tool", toolName)
	}

	if util.GetEnvBool("TRAITGRAPH_WARM", false) {
		if err := service.Warm(ctx); err != nil {
			logger.Fatal("Could not warm caches", "err", err)
		}
	}

	args, err := json.Marshal(map[string]string{"trait": trait})
	if err != nil {
		logger.Fatal("Could not encode tool arguments", "err", err)
	}

	output, err := tool.Handler(ctx, string(args))
	if err != nil {
		logger.Fatal("Tool call failed", "tool", tool.Name, "err", err)
	}

	fmt.Print(output)

	if debug {
		snapshot := trace.Snapshot()
		logger.Debug("[Query] Trace",
			"id", snapshot.ID,
			"trait_keys", len(snapshot.QueriedTraitKeys),
			"study_ids", len(snapshot.UsedStudyIDs),
			"pair_keys", len(snapshot.QueriedPairKeys),
		)
	}
}

// parseArgs splits the positional arguments into a tool name and the
// trait name. The first argument selects a tool when it matches one;
// everything else is the trait name, which may span multiple words
// without quoting. Runs with no tool argument use the fallback.
func parseArgs(args []string, tools []toolkit.Tool, fallback string) (toolName, trait string) {
	if len(args) == 0 {
		return fallback, ""
	}
	if _, ok := findTool(tools, args[0]); ok {
		return args[0], strings.TrimSpace(strings.Join(args[1:], " "))
	}
	return fallback, strings.TrimSpace(strings.Join(args, " "))
}

func findTool(tools []toolkit.Tool, name string) (toolkit.Tool, bool) {
	for _, tool := range tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return toolkit.Tool{}, false
}

func printUsage(tools []toolkit.Tool) {
	fmt.Fprintf(os.Stderr, "Usage: traitquery [tool] <trait name>\n\n")
	fmt.Fprintf(os.Stderr, "Runs one tool against the trait graph and prints its markdown output.\n")
	fmt.Fprintf(os.Stderr, "Without a tool argument, %s is used.\n\nTools:\n", defaultTool)
	for _, tool := range tools {
		fmt.Fprintf(os.Stderr, "  %s\n      %s\n", tool.Name, tool.Description)
	}
	fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_H2_TABLE            heritability table (csv/tsv, .gz ok), required\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_RG_TABLE            genetic correlation table, required\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_RG_Z_THRESHOLD      correlation z cutoff (default 4.0)\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_H2_Z_THRESHOLD      heritability z cutoff (default 4.0)\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_SIMILARITY_FLOOR    fuzzy match floor (default 0.5)\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_TOOL                tool to run when none is given\n")
	fmt.Fprintf(os.Stderr, "  TRAITGRAPH_WARM                precompute all nodes and edges first\n")
	fmt.Fprintf(os.Stderr, "  DEBUG                          verbose logging\n")
}
