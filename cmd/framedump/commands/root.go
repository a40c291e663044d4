package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Zereker/framing"
	"github.com/Zereker/framing/internal/config"
)

var (
	cfgFile        string
	verbose        bool
	outputFormat   string
	outputQuery    string
	maxMessageSize int
	stopOnError    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "framedump",
	Short: "Decode Content-Length framed JSON streams",
	Long: `framedump reads streams of "Content-Length: N" framed JSON messages,
the wire format used by LSP and many JSON-RPC tools, and prints every
decoded message.

Malformed frames are logged to stderr and skipped unless --stop-on-error
is set.`,
	SilenceUsage: true,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", config.FormatJSON, "output format: json, yaml or raw")
	rootCmd.PersistentFlags().StringVarP(&outputQuery, "query", "q", "", "jq expression applied to every message")
	rootCmd.PersistentFlags().IntVar(&maxMessageSize, "max-message-size", 0, "skip bodies larger than this many bytes (0 for no limit)")
	rootCmd.PersistentFlags().BoolVar(&stopOnError, "stop-on-error", false, "stop at the first malformed frame")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(dialCmd)
}

// loadConfig reads --config and applies the flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format = outputFormat
	}
	if flags.Changed("query") {
		cfg.Output.Query = outputQuery
	}
	if flags.Changed("max-message-size") {
		cfg.Reader.MaxMessageSize = maxMessageSize
	}
	if flags.Changed("stop-on-error") {
		cfg.Reader.StopOnError = stopOnError
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the stderr logger for one command invocation.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level, _ := cfg.LogLevel()
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// connOptions combines the config with the callbacks of a command.
func connOptions(cfg *config.Config, logger *slog.Logger, onMessage func(framing.Message) error) []framing.Option {
	action := cfg.ErrorAction()

	opts := cfg.Options()
	opts = append(opts,
		framing.LoggerOption(logger),
		framing.OnMessageOption(onMessage),
		framing.OnErrorOption(func(err error) framing.ErrorAction {
			logger.Warn("bad frame", "error", err)
			return action
		}),
	)
	return opts
}
