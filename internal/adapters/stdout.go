package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/steveyegge/digitaltwin/internal/message"
)

// StdoutSink implements sink.Sink by printing received StateReports
// and acknowledging EndOfStream. It is the typical output sink wired
// into a Director for the `update` CLI command.
type StdoutSink struct {
	Writer io.Writer
}

func (s *StdoutSink) writer() io.Writer {
	if s.Writer != nil {
		return s.Writer
	}
	return os.Stdout
}

func (s *StdoutSink) Handle(_ context.Context, msg message.Message) error {
	switch msg.Kind {
	case message.KindStateReport:
		sr := msg.StateReport
		if sr == nil {
			return nil
		}
		_, err := fmt.Fprintf(s.writer(), "%s %s %s\n", sr.Path, sr.DateTime.Format(DatetimeLayout), formatValues(sr.Values))
		return err
	case message.KindEndOfStream:
		_, err := fmt.Fprintln(s.writer(), "EndOfStream")
		return err
	default:
		return nil
	}
}

// formatValues renders a state's index->value map in stable, sorted
// order ("1=1.9, 2=2.9") for deterministic stdout output.
func formatValues(values map[int32]float64) string {
	indices := make([]int32, 0, len(values))
	for idx := range values {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := ""
	for i, idx := range indices {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d=%v", idx, values[idx])
	}
	return out
}
