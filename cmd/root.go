package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/mci/internal/config"
	"github.com/ihavespoons/mci/internal/logutil"
)

// Exit codes
const (
	exitFailure          = 1
	exitStoreUnreachable = 2
)

var (
	// Global flags
	jsonOutput bool
	verbose    bool
	logFile    string

	// settings loaded from the environment before any command runs
	envConfig *config.Config
	closeLog  func() error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mci",
	Short: "Chunk source trees along syntax boundaries and index them for retrieval",
	Long: `mci walks a source tree, splits every text file into chunks that follow
type and function boundaries, embeds the chunks and stores them with scope
metadata in a vector store.

Settings come from the environment (or a .env file) and from the optional
per-project file .mci/project.yaml created by 'mci init'.

Use 'mci index <root>' for a dry run, then 'mci index <root> --write' to
embed and store.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		envConfig = cfg

		level := logutil.ParseLevel(cfg.LogLevel)
		if verbose {
			level = slog.LevelDebug
		}
		path := logFile
		if path == "" {
			path = cfg.LogFile
		}
		logger, closer, err := logutil.Setup(level, path)
		if err != nil {
			return err
		}
		closeLog = closer

		cmd.SetContext(logutil.WithLogger(cmd.Context(), logger))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := exitFailure
		var ce *codeError
		if errors.As(err, &ce) {
			code = ce.code
		}
		printError(err)
		stop()
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (default $MCI_LOG_FILE)")
}

// codeError carries a process exit code other than the default failure
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string { return e.err.Error() }
func (e *codeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &codeError{code: code, err: err}
}

// outputJSON outputs data as JSON
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// output outputs data in the appropriate format
func output(data interface{}, textFormatter func(interface{}) string) error {
	if jsonOutput {
		if err := outputJSON(data); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
	fmt.Print(textFormatter(data))
	return nil
}

// printError reports err in JSON format if --json flag is set
func printError(err error) {
	if jsonOutput {
		_ = outputJSON(map[string]string{"error": err.Error()})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
