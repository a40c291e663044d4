package commands

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/itchyny/gojq"
	"github.com/pkg/errors"

	"github.com/Zereker/framing"
	"github.com/Zereker/framing/internal/config"
)

// printer writes decoded messages to w. It is safe for concurrent use so
// every connection of a listener can share one.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	query  *gojq.Query
}

func newPrinter(w io.Writer, format, expr string) (*printer, error) {
	p := &printer{w: w, format: format}
	if p.format == "" {
		p.format = config.FormatJSON
	}

	if expr != "" {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "parse query %q", expr)
		}
		p.query = query
	}
	return p, nil
}

// Print writes one message, or every result of the query run against it.
func (p *printer) Print(message framing.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.query == nil {
		if p.format == config.FormatRaw {
			return p.writeRaw(message.Raw)
		}
		return p.write(message.Value)
	}

	iter := p.query.Run(message.Value)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return errors.Wrap(err, "query")
		}
		if err := p.write(v); err != nil {
			return err
		}
	}
}

func (p *printer) write(v any) error {
	switch p.format {
	case config.FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "format yaml")
		}
		if _, err := io.WriteString(p.w, "---\n"); err != nil {
			return err
		}
		_, err = p.w.Write(data)
		return err
	case config.FormatRaw:
		if s, ok := v.(string); ok {
			return p.writeRaw([]byte(s))
		}
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "format json")
		}
		return p.writeRaw(data)
	default:
		return json.NewEncoder(p.w).Encode(v)
	}
}

func (p *printer) writeRaw(data []byte) error {
	if _, err := p.w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(p.w, "\n")
	return err
}
