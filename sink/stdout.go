package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Stdout prints one line per flow, either human-readable or as JSON.
type Stdout struct {
	w    io.Writer
	json bool
}

// NewStdout creates a line-printing sink on w.
func NewStdout(w io.Writer, asJSON bool) *Stdout {
	return &Stdout{w: w, json: asJSON}
}

func (s *Stdout) Write(_ context.Context, batch []Record) error {
	for i := range batch {
		if s.json {
			b, err := json.Marshal(&batch[i])
			if err != nil {
				return fmt.Errorf("marshal flow record: %w", err)
			}
			fmt.Fprintln(s.w, string(b))
			continue
		}
		r := &batch[i]
		fmt.Fprintf(s.w, "%s %s %s pid=%d comm=%s src=%s dst=%s lport=%d\n",
			r.Time.Format(time.RFC3339Nano), r.Proto, r.Direction,
			r.PID, r.ProcessName, r.SrcAddr, r.DstAddr, r.ListenPort)
	}
	return nil
}

func (s *Stdout) Close() error { return nil }
