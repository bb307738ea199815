package adapters

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/steveyegge/digitaltwin/internal/message"
)

// defaultScanBuffer is the maximum line length RunStdin accepts when
// given no buffer size: large enough for a values map with a few
// hundred indices on one line. It is unrelated to `-b BUFSZ`, which
// sets mailbox capacity.
const defaultScanBuffer = 64 * 1024

// RunStdin reads newline-delimited JSON from r: each non-blank line is
// wrapped as a Content envelope, its hint inferred from whether the
// line contains "gene_type", and handed to decoder. On EOF an
// EndOfStream envelope is sent to decoder.Next. bufferSize <= 0 uses
// defaultScanBuffer.
func RunStdin(ctx context.Context, r io.Reader, decoder *Decoder, bufferSize int) error {
	if bufferSize <= 0 {
		bufferSize = defaultScanBuffer
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufferSize), bufferSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		hint := message.ContentUpdate
		if strings.Contains(line, "gene_type") {
			hint = message.ContentGeneMapping
		}

		reply := make(chan message.Envelope, 1)
		env := message.Envelope{
			Message:      message.NewContent(nil, line, hint),
			RespondTo:    reply,
			SequenceTime: time.Now().UTC(),
		}
		decoder.Handle(ctx, env)

		select {
		case r := <-reply:
			if r.Message.Kind == message.KindActorError && r.Message.ActorError != nil {
				log.Printf("adapters: stdin: %s", r.Message.ActorError.Reason)
			}
		case <-time.After(2 * time.Second):
			log.Printf("adapters: stdin: timed out waiting for a reply to line %q", line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("adapters: stdin scan: %w", err)
	}
	return decoder.Next.Send(ctx, message.NewEnvelope(message.NewEndOfStream()))
}
