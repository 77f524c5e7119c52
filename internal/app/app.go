package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

type command struct {
	name    string
	summary string
	run     func(args []string) int
}

func commands() []command {
	return []command{
		{name: "health", summary: "Verify database connectivity (--provider also checks embeddings)", run: runHealth},
		{name: "embed", summary: "Embed articles and alerts that have no vector yet", run: runEmbed},
		{name: "similar", summary: "Find stored items similar to a text or vector query", run: runSimilar},
		{name: "curate", summary: "Deduplicate and cluster recent items", run: runCurate},
		{name: "stats", summary: "Show embedding coverage per content class", run: runStats},
		{name: "serve", summary: "Start Echo API server", run: runServe},
	}
}

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	name := strings.ToLower(strings.TrimSpace(args[0]))
	switch name {
	case "help", "--help", "-h":
		printUsage(os.Stderr)
		return 0
	}
	for _, cmd := range commands() {
		if cmd.name == name {
			return cmd.run(args[1:])
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
	printUsage(os.Stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "cityping CLI\n\nUsage:\n  cityping <command> [flags]\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, cmd := range commands() {
		fmt.Fprintf(tw, "  %s\t%s\n", cmd.name, cmd.summary)
	}
	_ = tw.Flush()
	fmt.Fprint(w, "\nUse \"cityping <command> -h\" for command-specific flags.\n")
}
