package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/storypack"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
	Reset    bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed [pack.cue]",
		Short: "Seed the database from a story pack",
		Long: `Seed the story graph from a CUE story pack, or from the built-in
demo story when no pack is given.

With --reset every existing row is wiped first, sessions included.
Without it, seeding into a graph with clashing edge labels fails and
rolls back.

Example:
  weave seed --db ./weave.db
  weave seed --db ./weave.db --reset packs/prison-break.cue`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			packPath := ""
			if len(args) == 1 {
				packPath = args[0]
			}
			return runSeed(cmd, opts, packPath)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "wipe all existing rows first")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *SeedOptions, packPath string) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pack := storypack.Demo()
	if packPath != "" {
		var err error
		pack, err = storypack.CompileFile(packPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to compile story pack", err)
		}
	}
	out.VerboseLog("pack %q: %d nodes, %d edges", pack.Title, len(pack.Nodes), len(pack.Edges))

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := storypack.Seed(ctx, st, pack, time.Now().UTC(), opts.Reset)
	if err != nil {
		return WrapExitError(ExitFailure, "seed failed", err)
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	return out.Success(fmt.Sprintf("seeded %d nodes, %d edges (start node %d)",
		len(result.NodeIDs), len(result.EdgeIDs), result.StartNodeID))
}
