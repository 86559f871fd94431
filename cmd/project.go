package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/project"
	"github.com/ihavespoons/mci/internal/vectordb"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [root]",
	Short: "Initialize a new mci project",
	Long: `Initialize a .mci directory in the project root.

This writes .mci/project.yaml with the default scan and chunk settings,
and creates the directory holding local index files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootArg(args)
		if err != nil {
			return err
		}

		p, err := project.Initialize(root)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"success": true,
				"path":    p.GetMciPath(),
				"config":  p.Config,
			})
		}
		fmt.Printf("Initialized mci project at %s\n", p.GetMciPath())
		fmt.Println("\nNext steps:")
		fmt.Println("  mci config                   # Review chunk and scan settings")
		fmt.Println("  mci index .                  # Dry run")
		fmt.Println("  mci index . --write          # Embed and store")
		return nil
	},
}

type projectStatus struct {
	Project      string                 `json:"project"`
	Path         string                 `json:"path"`
	Configured   bool                   `json:"configured"`
	Store        string                 `json:"store"`
	Collection   string                 `json:"collection"`
	Reachable    bool                   `json:"reachable"`
	IndexedFiles *int                   `json:"indexed_files,omitempty"`
	Config       *project.ProjectConfig `json:"config"`
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [root]",
	Short: "Show project status",
	Long:  `Display the project settings, the store in use and how many files it holds.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		_, statErr := os.Stat(p.GetConfigPath())
		status := &projectStatus{
			Project:    p.Config.Name,
			Path:       p.RootPath,
			Configured: statErr == nil,
			Store:      sc.Backend,
			Collection: sc.Collection,
			Config:     p.Config,
		}

		ctx := cmd.Context()
		if store, err := openStore(ctx, sc); err == nil {
			status.Reachable = true
			if lister, ok := store.(vectordb.PathLister); ok {
				if paths, err := lister.Paths(ctx); err == nil {
					n := len(paths)
					status.IndexedFiles = &n
				}
			}
			_ = store.Close()
		}

		return output(status, func(data interface{}) string {
			s := data.(*projectStatus)
			var b strings.Builder
			fmt.Fprintf(&b, "Project: %s\n", s.Project)
			fmt.Fprintf(&b, "Path: %s\n", s.Path)
			if !s.Configured {
				b.WriteString("Config: defaults (run 'mci init' to write .mci/project.yaml)\n")
			}
			fmt.Fprintf(&b, "\nChunking:\n")
			fmt.Fprintf(&b, "  mode: %s\n", s.Config.Chunk.Mode)
			fmt.Fprintf(&b, "  chunk_size: %d\n", s.Config.Chunk.ChunkSize)
			fmt.Fprintf(&b, "  overlap: %g\n", s.Config.Chunk.Overlap)
			fmt.Fprintf(&b, "  encoding: %s\n", s.Config.Chunk.Encoding)
			fmt.Fprintf(&b, "\nStore: %s (collection %s)\n", s.Store, s.Collection)
			if !s.Reachable {
				b.WriteString("  unreachable\n")
			} else if s.IndexedFiles != nil {
				fmt.Fprintf(&b, "  indexed files: %d\n", *s.IndexedFiles)
			}
			return b.String()
		})
	},
}

// configKeys lists the settings that config get/set understand
var configKeys = []string{
	"name",
	"chunk.chunk_size",
	"chunk.overlap",
	"chunk.mode",
	"chunk.encoding",
	"chunk.trim_gap_blank_lines",
	"scan.recursive",
	"scan.include_hidden",
}

func getConfigValue(c *project.ProjectConfig, key string) (interface{}, error) {
	switch key {
	case "name":
		return c.Name, nil
	case "chunk.chunk_size":
		return c.Chunk.ChunkSize, nil
	case "chunk.overlap":
		return c.Chunk.Overlap, nil
	case "chunk.mode":
		return c.Chunk.Mode, nil
	case "chunk.encoding":
		return c.Chunk.Encoding, nil
	case "chunk.trim_gap_blank_lines":
		return c.Chunk.TrimGapBlankLines, nil
	case "scan.recursive":
		return c.Scan.Recursive, nil
	case "scan.include_hidden":
		return c.Scan.IncludeHidden, nil
	}
	return nil, fmt.Errorf("unknown config key: %s (valid: %s)", key, strings.Join(configKeys, ", "))
}

func setConfigValue(c *project.ProjectConfig, key, value string) error {
	var err error
	switch key {
	case "name":
		c.Name = value
	case "chunk.chunk_size":
		c.Chunk.ChunkSize, err = strconv.Atoi(value)
	case "chunk.overlap":
		c.Chunk.Overlap, err = strconv.ParseFloat(value, 64)
	case "chunk.mode":
		mode, ok := chunk.ParseMode(value)
		if !ok {
			return fmt.Errorf("unknown mode %q (valid: %v)", value, chunk.ValidModes)
		}
		c.Chunk.Mode = mode
	case "chunk.encoding":
		c.Chunk.Encoding = value
	case "chunk.trim_gap_blank_lines":
		c.Chunk.TrimGapBlankLines, err = strconv.ParseBool(value)
	case "scan.recursive":
		c.Scan.Recursive, err = strconv.ParseBool(value)
	case "scan.include_hidden":
		c.Scan.IncludeHidden, err = strconv.ParseBool(value)
	default:
		_, err = getConfigValue(c, key)
		return err
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return c.Chunk.Validate()
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config [get|set] [key] [value]",
	Short: "View or modify project configuration",
	Long: `View or modify the project configuration in .mci/project.yaml.

Examples:
  mci config                           # Show all config
  mci config get chunk.mode            # Get a specific value
  mci config set chunk.chunk_size 1500 # Set a value`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := project.EnsureActive()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			if jsonOutput {
				return outputJSON(p.Config)
			}
			for _, key := range configKeys {
				v, _ := getConfigValue(p.Config, key)
				fmt.Printf("%s: %v\n", key, v)
			}
			fmt.Printf("scan.include: %s\n", strings.Join(p.Config.Scan.Include, ", "))
			fmt.Printf("scan.exclude: %s\n", strings.Join(p.Config.Scan.Exclude, ", "))
			return nil
		}

		switch args[0] {
		case "get":
			if len(args) < 2 {
				return errors.New("usage: mci config get <key>")
			}
			value, err := getConfigValue(p.Config, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(map[string]interface{}{args[1]: value})
			}
			fmt.Println(value)

		case "set":
			if len(args) < 3 {
				return errors.New("usage: mci config set <key> <value>")
			}
			key, value := args[1], args[2]
			if err := setConfigValue(p.Config, key, value); err != nil {
				return err
			}
			if err := p.Save(); err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(map[string]interface{}{"success": true, key: value})
			}
			fmt.Printf("Set %s = %s\n", key, value)

		default:
			return fmt.Errorf("unknown action: %s (use 'get' or 'set')", args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}
