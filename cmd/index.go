package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/logutil"
	"github.com/ihavespoons/mci/internal/project"
	"github.com/ihavespoons/mci/internal/scan"
	"github.com/ihavespoons/mci/internal/semantic"
	"github.com/ihavespoons/mci/internal/vectordb"
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [root]",
	Short: "Chunk a source tree and index it",
	Long: `Scan a directory, chunk every text file and, with --write, embed the
chunks and upsert them into the vector store.

Without --write the run is dry: files are scanned and chunked and the
counts are reported, but nothing is embedded or stored.

Files whose content hash matches what the store already holds are
skipped unless --force is given.

Examples:
  mci index .
  mci index ./src --write
  mci index . --write --mode function --chunk-size 1500
  mci index . --write --store qdrant --exclude "**/testdata/**"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		write, _ := cmd.Flags().GetBool("write")
		backend, _ := cmd.Flags().GetString("store")
		if backend != "" {
			envConfig.Store = strings.ToLower(backend)
		}
		if err := envConfig.Validate(write); err != nil {
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
		idx, cleanup, err := buildIndexer(ctx, cmd, p, !write)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := idx.Run(ctx)
		if err != nil {
			if stats != nil {
				_ = output(stats, formatStats)
			}
			return err
		}

		if err := output(stats, formatStats); err != nil {
			return err
		}
		if stats.FilesFailed > 0 {
			return fmt.Errorf("%d of %d files failed to index", stats.FilesFailed, stats.FilesSeen)
		}
		return nil
	},
}

// buildIndexer wires scanner, chunker, embedder and store for p. The
// returned cleanup closes whatever was opened.
func buildIndexer(ctx context.Context, cmd *cobra.Command, p *project.Project, dryRun bool) (*semantic.Indexer, func(), error) {
	logger := logutil.FromContext(ctx)
	cleanup := func() {}

	chunkCfg, err := chunkConfig(cmd, p)
	if err != nil {
		return nil, cleanup, err
	}
	chunker, err := chunk.NewTreeChunker(chunkCfg, chunk.WithLogger(logger))
	if err != nil {
		return nil, cleanup, err
	}
	scanner, err := scan.New(scanConfig(cmd, p))
	if err != nil {
		return nil, cleanup, err
	}

	force, _ := cmd.Flags().GetBool("force")
	prune, _ := cmd.Flags().GetBool("prune")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	opts := semantic.Options{
		DryRun:      dryRun,
		Force:       force,
		BatchSize:   batchSize,
		Concurrency: concurrency,
		Prune:       prune,
	}

	if dryRun {
		idx, err := semantic.NewIndexer(scanner, chunker, nil, nil, opts)
		return idx, cleanup, err
	}

	embedder, err := newEmbedder(envConfig)
	if err != nil {
		return nil, cleanup, err
	}
	sc, err := storeConfig(envConfig, p, envConfig.Store)
	if err != nil {
		_ = embedder.Close()
		return nil, cleanup, err
	}
	store, err := openStore(ctx, sc)
	if err != nil {
		_ = embedder.Close()
		return nil, cleanup, err
	}
	cleanup = func() {
		_ = embedder.Close()
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}

	logger.Info("index target",
		"root", p.RootPath, "store", sc.Backend, "collection", sc.Collection,
		"provider", embedder.Name(), "model", embedder.Model())

	idx, err := semantic.NewIndexer(scanner, chunker, embedder, store, opts)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return idx, cleanup, nil
}

// formatStats renders run statistics as text
func formatStats(data interface{}) string {
	s := data.(*semantic.Stats)
	var b strings.Builder
	if s.DryRun {
		fmt.Fprintf(&b, "Dry run of %s (nothing embedded or stored)\n", s.Root)
	} else {
		fmt.Fprintf(&b, "Indexed %s\n", s.Root)
	}
	fmt.Fprintf(&b, "  Files seen:    %d\n", s.FilesSeen)
	fmt.Fprintf(&b, "  Files indexed: %d\n", s.FilesIndexed)
	fmt.Fprintf(&b, "  Files skipped: %d\n", s.FilesSkipped)
	if s.FilesPruned > 0 {
		fmt.Fprintf(&b, "  Files pruned:  %d\n", s.FilesPruned)
	}
	fmt.Fprintf(&b, "  Files failed:  %d\n", s.FilesFailed)
	fmt.Fprintf(&b, "  Chunks:        %d\n", s.ChunksEmitted)
	fmt.Fprintf(&b, "  Duration:      %s\n", s.Duration.Round(time.Millisecond))
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "  ! %s: %s\n", e.Path, e.Error)
	}
	return b.String()
}

func addIndexFlags(cmd *cobra.Command) {
	addChunkFlags(cmd)
	addScanFlags(cmd)
	cmd.Flags().Bool("force", false, "Re-embed files even when their content hash is unchanged")
	cmd.Flags().String("store", "", fmt.Sprintf("Store backend: %s, %s or %s (default $MCI_STORE)",
		vectordb.BackendSQLite, vectordb.BackendQdrant, vectordb.BackendBleve))
	cmd.Flags().Int("batch-size", semantic.DefaultBatchSize, "Records embedded and upserted per batch")
	cmd.Flags().Int("concurrency", semantic.DefaultConcurrency, "Files processed in parallel")
	cmd.Flags().Bool("prune", false, "Delete records of files no longer present under the root")
}

func init() {
	rootCmd.AddCommand(indexCmd)

	addIndexFlags(indexCmd)
	indexCmd.Flags().BoolP("write", "w", false, "Embed and store chunks (default is a dry run)")
}
