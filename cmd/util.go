package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/config"
	"github.com/ihavespoons/mci/internal/embedding"
	"github.com/ihavespoons/mci/internal/logutil"
	"github.com/ihavespoons/mci/internal/project"
	"github.com/ihavespoons/mci/internal/scan"
	"github.com/ihavespoons/mci/internal/vectordb"
)

// rootArg returns the root directory argument, defaulting to the working directory
func rootArg(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// addChunkFlags registers the chunking overrides shared by several commands
func addChunkFlags(cmd *cobra.Command) {
	cmd.Flags().Int("chunk-size", 0, "Chunk size in characters; negative keeps whole files (default from project config)")
	cmd.Flags().Float64("overlap", 0, "Window overlap fraction in [0, 1) (default from project config)")
	cmd.Flags().String("mode", "", "Chunking mode: file, type, function, auto_ast (default from project config)")
	cmd.Flags().String("encoding", "", "Source encoding: utf8, _auto or a WHATWG label (default from project config)")
}

// chunkConfig applies flag overrides to the project chunk settings
func chunkConfig(cmd *cobra.Command, p *project.Project) (chunk.Config, error) {
	cfg := p.Config.Chunk
	if cmd.Flags().Changed("chunk-size") {
		cfg.ChunkSize, _ = cmd.Flags().GetInt("chunk-size")
	}
	if cmd.Flags().Changed("overlap") {
		cfg.Overlap, _ = cmd.Flags().GetFloat64("overlap")
	}
	if cmd.Flags().Changed("mode") {
		mode, _ := cmd.Flags().GetString("mode")
		cfg.Mode = chunk.Mode(mode)
	}
	if cmd.Flags().Changed("encoding") {
		cfg.Encoding, _ = cmd.Flags().GetString("encoding")
	}
	if err := cfg.Validate(); err != nil {
		return chunk.Config{}, err
	}
	return cfg, nil
}

// scanConfig applies --include, --exclude and --hidden overrides
func scanConfig(cmd *cobra.Command, p *project.Project) scan.Config {
	cfg := p.ScanConfig()
	if include, _ := cmd.Flags().GetStringSlice("include"); len(include) > 0 {
		cfg.Include = include
	}
	if exclude, _ := cmd.Flags().GetStringSlice("exclude"); len(exclude) > 0 {
		cfg.Exclude = append(append([]string(nil), cfg.Exclude...), exclude...)
	}
	if hidden, _ := cmd.Flags().GetBool("hidden"); hidden {
		cfg.IncludeHidden = true
	}
	return cfg
}

// addScanFlags registers the file selection overrides
func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("include", nil, "Glob of files to include, repeatable (replaces project includes)")
	cmd.Flags().StringSlice("exclude", nil, "Glob of files to exclude, repeatable (added to project excludes)")
	cmd.Flags().Bool("hidden", false, "Include hidden files and directories")
}

// storeConfig resolves the backend settings for the project
func storeConfig(cfg *config.Config, p *project.Project, backend string) (vectordb.Config, error) {
	collection, err := vectordb.CollectionName(p.RootPath)
	if err != nil {
		return vectordb.Config{}, err
	}
	if backend == "" {
		backend = cfg.Store
	}
	sc := vectordb.Config{
		Backend:    strings.ToLower(backend),
		Collection: collection,
		SQLitePath: cfg.SQLitePath,
		QdrantURL:  cfg.QdrantURL,
		BlevePath:  cfg.BlevePath,
	}
	if sc.SQLitePath == "" {
		sc.SQLitePath = filepath.Join(p.GetIndexPath(), project.SQLiteFile)
	}
	if sc.BlevePath == "" {
		sc.BlevePath = filepath.Join(p.GetIndexPath(), project.BleveDir)
	}
	return sc, nil
}

// openStore opens the backend and checks that it answers. An unreachable
// store is reported with exit code 2.
func openStore(ctx context.Context, sc vectordb.Config) (vectordb.Store, error) {
	local := ""
	switch sc.Backend {
	case vectordb.BackendSQLite, "":
		local = sc.SQLitePath
	case vectordb.BackendBleve:
		local = sc.BlevePath
	}
	if local != "" {
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	store, err := vectordb.New(ctx, sc)
	if err != nil {
		if errors.Is(err, vectordb.ErrUnknownBackend) {
			return nil, err
		}
		return nil, withExitCode(exitStoreUnreachable, fmt.Errorf("failed to open %s store: %w", sc.Backend, err))
	}
	if !store.Ping(ctx) {
		_ = store.Close()
		return nil, withExitCode(exitStoreUnreachable, fmt.Errorf("%s store is unreachable", sc.Backend))
	}
	logutil.FromContext(ctx).Debug("store ready", "backend", sc.Backend, "collection", sc.Collection)
	return store, nil
}

// newProvider builds the configured embedding provider
func newProvider(cfg *config.Config) (embedding.Provider, error) {
	// unset fields take the provider defaults one by one
	retry := embedding.RetryConfig{
		MaxRetries: cfg.EmbeddingMaxRetries,
		BaseDelay:  cfg.EmbeddingRetryDelay,
	}

	provider, err := embedding.NewProvider(&embedding.Config{
		Provider:   cfg.EmbeddingProvider,
		Model:      cfg.EmbeddingModel,
		Endpoint:   cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Dimensions: cfg.EmbeddingDimensions,
		TokenLimit: cfg.EmbeddingTokenLimit,
		BatchSize:  cfg.EmbeddingBatchSize,
		Timeout:    cfg.EmbeddingTimeout,
		Retry:      retry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	return provider, nil
}

// newEmbedder builds the configured provider behind an LRU cache
func newEmbedder(cfg *config.Config) (*embedding.CachedProvider, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return embedding.NewCachedProvider(provider, cfg.EmbeddingCacheSize)
}
