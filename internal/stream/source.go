// Package stream is the inbound event transport for the research-session
// reducer: it decodes the orchestrator's NDJSON progress stream and can
// follow a live event file as the orchestrator appends to it.
//
// The reducer itself performs no I/O; everything timing- and
// transport-related lives here.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"studynerd/internal/logging"
	"studynerd/internal/research"
)

// maxLineBytes bounds a single NDJSON line. Orchestrator synthesis
// fragments can be large, so this is generous.
const maxLineBytes = 4 << 20

// DecodeLine parses one NDJSON line into an event. Lines must carry at
// least a type tag; everything else is optional.
func DecodeLine(line []byte) (research.Event, error) {
	var evt research.Event
	if err := json.Unmarshal(line, &evt); err != nil {
		return research.Event{}, fmt.Errorf("malformed event line: %w", err)
	}
	if evt.Type == "" {
		return research.Event{}, fmt.Errorf("event line missing type tag")
	}
	return evt, nil
}

// Replay feeds a recorded NDJSON stream into the reducer: a producer
// goroutine decodes lines while the consumer dispatches them in order.
// Dispatch stays on a single goroutine, preserving the reducer's
// single-writer contract. Malformed lines are logged and skipped; replay
// is tolerant because recorded streams get truncated by crashes.
func Replay(ctx context.Context, r io.Reader, red *research.Reducer) (int, error) {
	events := make(chan research.Event, 64)
	var dispatched int

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			evt, err := DecodeLine(line)
			if err != nil {
				logging.StreamWarn("Skipping line %d: %v", lineNo, err)
				continue
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return scanner.Err()
	})
	g.Go(func() error {
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return nil
				}
				red.Dispatch(evt)
				dispatched++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	logging.Stream("Replay complete: %d events dispatched", dispatched)
	return dispatched, nil
}
