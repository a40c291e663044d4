package commands

import (
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/framing"
)

var readCmd = &cobra.Command{
	Use:   "read [file]",
	Short: "Decode a framed stream from a file or stdin",
	Long: `Decode a framed stream from a file, or from stdin when no file or "-" is given.

Examples:
  framedump read server.log
  framedump read --format yaml < capture.bin
  cat capture.bin | framedump read --query 'select(.method) | .method'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	out, err := newPrinter(cmd.OutOrStdout(), cfg.Output.Format, cfg.Output.Query)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open input")
		}
		defer f.Close()
		in = f
	}

	conn, err := framing.NewConn(in, connOptions(cfg, logger, out.Print)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return conn.Run(ctx)
}
