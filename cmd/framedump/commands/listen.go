package commands

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/framing"
)

var listenCmd = &cobra.Command{
	Use:   "listen <addr>",
	Short: "Accept TCP connections and decode their streams",
	Long: `Accept TCP connections on addr and decode every connection's stream.

Messages are printed as they arrive; each connection is identified by a UUID
in the log output.

Examples:
  framedump listen 127.0.0.1:9000
  framedump listen :9000 --format yaml -v`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

// printHandler prints the messages of every connection of a Server.
type printHandler struct {
	out    *printer
	logger *slog.Logger
	action framing.ErrorAction
}

func (h *printHandler) HandleMessage(id string, message framing.Message) error {
	h.logger.Debug("message", "conn", id, "bytes", message.Length())
	return h.out.Print(message)
}

func (h *printHandler) HandleError(id string, err error) framing.ErrorAction {
	h.logger.Warn("bad frame", "conn", id, "error", err)
	return h.action
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	out, err := newPrinter(cmd.OutOrStdout(), cfg.Output.Format, cfg.Output.Query)
	if err != nil {
		return err
	}

	addr, err := net.ResolveTCPAddr("tcp", args[0])
	if err != nil {
		return errors.Wrapf(err, "resolve %s", args[0])
	}
	shutdownTimeout, _ := cfg.ShutdownTimeout()

	server, err := framing.New(addr,
		framing.ServerLoggerOption(logger),
		framing.ServerConnOption(cfg.Options()...),
		framing.ServerShutdownTimeoutOption(shutdownTimeout),
	)
	if err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.Serve(ctx, &printHandler{out: out, logger: logger, action: cfg.ErrorAction()})
	if errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
