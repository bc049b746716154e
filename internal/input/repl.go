package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"alarmd/internal/alarm"
	logx "alarmd/pkg/logx"
)

// Reader is the interactive read-eval loop. It prompts, parses and pushes
// requests into the bounded buffer; a full buffer blocks the prompt
// (backpressure, not an error). EOF returns nil.
type Reader struct {
	in     io.Reader
	prompt io.Writer // stdout
	diag   io.Writer // stderr
	buffer *alarm.Buffer
	clock  alarm.Clock
	log    logx.Logger
}

func NewReader(in io.Reader, prompt, diag io.Writer, buffer *alarm.Buffer, clock alarm.Clock, log logx.Logger) *Reader {
	if clock == nil {
		clock = alarm.SystemClock{}
	}
	return &Reader{in: in, prompt: prompt, diag: diag, buffer: buffer, clock: clock, log: log}
}

func (r *Reader) Run(ctx context.Context) error {
	sc := bufio.NewScanner(r.in)
	sc.Buffer(make([]byte, 4096), 4096)

	for {
		fmt.Fprint(r.prompt, "alarm> ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return err
			}
			// EOF: the session is over.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		req, err := ParseLine(line, r.clock.Now())
		if err != nil {
			fmt.Fprintf(r.diag, "alarmd: %v\n", err)
			continue
		}

		r.log.Debug("request inserted into buffer",
			logx.String("kind", req.Kind.String()),
			logx.Int("id", req.ID),
			logx.Int("buffered", r.buffer.Len()),
		)
		if err := r.buffer.Push(ctx, req); err != nil {
			return err
		}
	}
}
