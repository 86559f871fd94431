package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/project"
)

type pingResult struct {
	Store      string `json:"store"`
	Collection string `json:"collection"`
	Reachable  bool   `json:"reachable"`
	Embedder   string `json:"embedder,omitempty"`
	EmbedderOK *bool  `json:"embedder_ok,omitempty"`
	Error      string `json:"error,omitempty"`
}

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping [root]",
	Short: "Check that the vector store is reachable",
	Long: `Open the configured store for the root and run its health check.
Exits with status 2 when the store cannot be reached.

With --embedder the embedding service is checked as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("store")
		if backend != "" {
			envConfig.Store = strings.ToLower(backend)
		}
		checkEmbedder, _ := cmd.Flags().GetBool("embedder")
		if err := envConfig.Validate(checkEmbedder); err != nil {
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
		sc, err := storeConfig(envConfig, p, envConfig.Store)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		res := &pingResult{Store: sc.Backend, Collection: sc.Collection}
		store, storeErr := openStore(ctx, sc)
		if storeErr == nil {
			res.Reachable = true
			_ = store.Close()
		} else {
			res.Error = storeErr.Error()
		}

		if checkEmbedder {
			ok, err := pingEmbedder(ctx)
			res.Embedder = envConfig.EmbeddingProvider
			res.EmbedderOK = &ok
			if err != nil && res.Error == "" {
				res.Error = err.Error()
			}
		}

		if err := output(res, formatPing); err != nil {
			return err
		}
		if storeErr != nil {
			return storeErr
		}
		if res.EmbedderOK != nil && !*res.EmbedderOK {
			return fmt.Errorf("embedding service %s is not available", res.Embedder)
		}
		return nil
	},
}

func pingEmbedder(ctx context.Context) (bool, error) {
	provider, err := newProvider(envConfig)
	if err != nil {
		return false, err
	}
	defer func() { _ = provider.Close() }()

	checker, ok := provider.(interface{ CheckAvailable(context.Context) error })
	if !ok {
		return true, nil
	}
	if err := checker.CheckAvailable(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func formatPing(data interface{}) string {
	r := data.(*pingResult)
	var b strings.Builder
	status := "reachable"
	if !r.Reachable {
		status = "UNREACHABLE"
	}
	fmt.Fprintf(&b, "Store %s (collection %s): %s\n", r.Store, r.Collection, status)
	if r.EmbedderOK != nil {
		status = "available"
		if !*r.EmbedderOK {
			status = "NOT AVAILABLE"
		}
		fmt.Fprintf(&b, "Embedder %s: %s\n", r.Embedder, status)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(pingCmd)

	pingCmd.Flags().String("store", "", "Store backend (default $MCI_STORE)")
	pingCmd.Flags().Bool("embedder", false, "Also check the embedding service")
}
