// Command produce is a dependency-directed build driver: it reads a rule
// file of pattern-matched, attribute-bag rules with embedded expression
// holes, and builds the targets requested on the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kbrook/produce"
	"github.com/kbrook/produce/internal/ruleparser"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		alwaysBuild bool
		debug       bool
		file        string
		jobs        int
		dryRun      bool
		silent      bool
		pretend     []string
		printGraph  bool
		why         string
	)

	cmd := &cobra.Command{
		Use:   "produce [targets...]",
		Short: "Build targets from a declarative, pattern-matched rule file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				pterm.EnableDebugMessages()
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening rule file: %w", err)
			}
			defer f.Close()

			parsed, err := ruleparser.Parse(f)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", file, err)
			}

			driver := produce.NewDriver(produce.Options{
				AlwaysBuild:     alwaysBuild,
				Debug:           debug,
				Jobs:            jobs,
				DryRun:          dryRun,
				Silent:          silent,
				PretendUpToDate: pretend,
			})

			if printGraph || why != "" {
				graph, targets, err := driver.Realize(parsed, args)
				if err != nil {
					return err
				}
				if printGraph {
					produce.PrintGraph(os.Stdout, graph, targets)
				}
				if why != "" {
					fmt.Println(produce.WhyOutOfDate(graph, why))
				}
				return nil
			}

			return driver.Run(context.Background(), parsed, args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVarP(&alwaysBuild, "always-build", "B", false, "force-rebuild every target reached")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "verbose logging")
	cmd.Flags().StringVarP(&file, "file", "f", "produce.ini", "rule file to read")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "recipe parallelism")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print recipes without executing them")
	cmd.Flags().BoolVarP(&silent, "silent", "s", false, "do not echo recipes")
	cmd.Flags().StringArrayVarP(&pretend, "pretend-up-to-date", "u", nil, "treat PATH as up to date for this run")
	cmd.Flags().BoolVar(&printGraph, "graph", false, "print the realized dependency graph as Graphviz DOT and exit")
	cmd.Flags().StringVar(&why, "why", "", "explain why TARGET is considered out of date and exit")

	return cmd
}
