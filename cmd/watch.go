package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/project"
	"github.com/ihavespoons/mci/internal/semantic"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Keep the index current as files change",
	Long: `Index the tree once, then watch it and re-index files as they are
created or modified. Records of deleted files are removed.

Changes are batched until no event has arrived for --debounce.
Stop with Ctrl+C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("store")
		if backend != "" {
			envConfig.Store = strings.ToLower(backend)
		}
		if err := envConfig.Validate(true); err != nil {
			return err
		}

		root, err := rootArg(args)
		if err != nil {
			return err
		}
		p, err := project.Open(root)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		idx, cleanup, err := buildIndexer(ctx, cmd, p, false)
		if err != nil {
			return err
		}
		defer cleanup()

		skipInitial, _ := cmd.Flags().GetBool("no-initial")
		if !skipInitial {
			stats, err := idx.Run(ctx)
			if err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Print(formatStats(stats))
			}
		}

		debounce, _ := cmd.Flags().GetDuration("debounce")
		ready := func() {
			if !jsonOutput {
				fmt.Println("Watching for file changes... (Ctrl+C to stop)")
			}
		}
		if err := semantic.NewWatcher(idx, debounce).Run(ctx, ready); err != nil {
			return err
		}

		if !jsonOutput {
			fmt.Println("\nStopped watching")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addIndexFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", semantic.DefaultDebounce, "Quiet period before changes are indexed")
	watchCmd.Flags().Bool("no-initial", false, "Skip the initial full index pass")
}
