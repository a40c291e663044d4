package commands

import (
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/framing"
)

var dialHeaders []string

var dialCmd = &cobra.Command{
	Use:   "dial <ws-url>",
	Short: "Connect to a WebSocket endpoint and decode its stream",
	Long: `Connect to a WebSocket endpoint and decode the framed stream it sends.

WebSocket message boundaries are ignored: the payloads are concatenated and
framed by their Content-Length headers.

Examples:
  framedump dial ws://localhost:8080/lsp
  framedump dial wss://example.com/rpc -H "Authorization: Bearer TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().StringArrayVarP(&dialHeaders, "header", "H", nil, "extra request header (Name: value)")
}

func runDial(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	out, err := newPrinter(cmd.OutOrStdout(), cfg.Output.Format, cfg.Output.Query)
	if err != nil {
		return err
	}

	header, err := parseHeaders(dialHeaders)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, args[0], header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial %s: %s", args[0], resp.Status)
		}
		return errors.Wrapf(err, "dial %s", args[0])
	}
	logger.Debug("connected", "url", args[0])

	conn, err := framing.NewSourceConn(framing.NewWebSocketSource(ws), connOptions(cfg, logger, out.Print)...)
	if err != nil {
		_ = ws.Close()
		return err
	}
	return conn.Run(ctx)
}

func parseHeaders(values []string) (http.Header, error) {
	header := http.Header{}
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, errors.Errorf("invalid header %q, want \"Name: value\"", v)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}
