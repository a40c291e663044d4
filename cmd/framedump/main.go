// framedump decodes Content-Length framed JSON messages and prints them.
//
// Usage:
//
//	framedump read trace.log                 # Decode a captured stream
//	framedump read --query .method < trace   # Print one field per message
//	framedump listen 127.0.0.1:9000          # Decode every TCP connection
//	framedump dial ws://localhost:8080/rpc   # Decode WebSocket messages
//
// Settings can also come from a YAML or TOML file passed with --config.
package main

import (
	"os"

	"github.com/Zereker/framing/cmd/framedump/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
