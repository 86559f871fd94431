package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/logutil"
	"github.com/ihavespoons/mci/internal/project"
)

type chunkListing struct {
	Path   string        `json:"path"`
	Mode   chunk.Mode    `json:"mode"`
	Chunks []chunk.Chunk `json:"chunks"`
}

// chunkCmd represents the chunk command
var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Show how a file would be chunked",
	Long: `Chunk a single file with the project settings and print one header per
chunk: position range, length, scope path and contained scopes.

Examples:
  mci chunk internal/server.go
  mci chunk app.py --mode function --chunk-size 800 --text`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		// settings come from the enclosing project when there is one
		dir := filepath.Dir(path)
		if root, err := project.FindProjectRoot(dir); err == nil {
			dir = root
		}
		p, err := project.Open(dir)
		if err != nil {
			return err
		}

		cfg, err := chunkConfig(cmd, p)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		chunker, err := chunk.NewTreeChunker(cfg, chunk.WithLogger(logutil.FromContext(ctx)))
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(p.RootPath, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		seq, err := chunker.ChunkFile(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		listing := &chunkListing{Path: path, Mode: chunker.Config().Mode, Chunks: []chunk.Chunk{}}
		for c := range seq {
			listing.Chunks = append(listing.Chunks, c)
		}

		showText, _ := cmd.Flags().GetBool("text")
		return output(listing, func(data interface{}) string {
			l := data.(*chunkListing)
			var b strings.Builder
			fmt.Fprintf(&b, "%s: %d chunks (mode %s)\n", l.Path, len(l.Chunks), l.Mode)
			for i, c := range l.Chunks {
				b.WriteString(c.Format(i+1, showText))
				b.WriteString("\n")
			}
			return b.String()
		})
	},
}

func init() {
	rootCmd.AddCommand(chunkCmd)

	addChunkFlags(chunkCmd)
	chunkCmd.Flags().BoolP("text", "t", false, "Print the text of each chunk")
}
