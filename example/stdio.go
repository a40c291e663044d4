// This example reads JSON-RPC requests framed the way language servers frame
// them from stdin and logs each request method.
//
//	printf 'Content-Length: 38\r\n\r\n{"jsonrpc":"2.0","id":1,"method":"hi"}' | go run ./example
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/Zereker/framing"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
}

func main() {
	reader := framing.NewReader(framing.MessageMaxSize(1 << 20))
	defer reader.Close()

	reader.OnData(func(m framing.Message) {
		var req request
		if err := m.Decode(&req); err != nil {
			slog.Warn("not a request", "bytes", m.Length(), "error", err)
			return
		}
		if req.ID == nil {
			slog.Info("notification", "method", req.Method)
			return
		}
		slog.Info("request", "id", req.ID, "method", req.Method)
	})

	reader.OnError(func(err error) {
		slog.Warn("bad frame", "error", err)
	})

	if _, err := io.Copy(reader, os.Stdin); err != nil {
		slog.Error("read stdin", "error", err)
		os.Exit(1)
	}
}
