// Package sse implements the chat stream framing: a Decoder turning an
// incremental byte stream into core.StreamEvents and an Encoder producing
// the same frames on the far end.
//
// A frame is a block of lines terminated by a blank line. An "event:" line
// selects the event type for the following "data:" lines of the same block
// (default "message"); every "data:" line carries one JSON payload.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
)

// Event type names used on the wire.
const (
	EventMessage  = "message"
	EventMetadata = "metadata"
	EventError    = "error"
)

// Decoder reads frames from an io.Reader. It is single use: a new Decoder is
// required per attempt. Decoder is not safe for concurrent use.
type Decoder struct {
	r         *bufio.Reader
	logger    logging.Logger
	eventType string
	done      bool
	skipped   int
}

// NewDecoder creates a Decoder over r. A nil logger discards malformed-frame logs.
func NewDecoder(r io.Reader, logger logging.Logger) *Decoder {
	return &Decoder{r: bufio.NewReader(r), logger: logging.OrNoOp(logger), eventType: EventMessage}
}

// Next returns the next event. It returns io.EOF once the transport closed
// or after an error frame was produced. Any other error comes from the
// underlying reader. Malformed payloads never surface: they are logged and
// skipped.
func (d *Decoder) Next() (core.StreamEvent, error) {
	for !d.done {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			d.done = true
			return nil, err
		}
		atEOF := err != nil
		if line == "" && atEOF {
			d.done = true
			break
		}

		if ev := d.processLine(strings.TrimRight(line, "\r\n")); ev != nil {
			if _, isErr := ev.(core.ErrorEvent); isErr || atEOF {
				d.done = true
			}
			return ev, nil
		}
		if atEOF {
			d.done = true
		}
	}
	return nil, io.EOF
}

// Skipped returns the number of malformed lines dropped so far.
func (d *Decoder) Skipped() int { return d.skipped }

func (d *Decoder) processLine(line string) core.StreamEvent {
	switch {
	case line == "":
		d.eventType = EventMessage
		return nil
	case strings.HasPrefix(line, ":"):
		return nil
	case strings.HasPrefix(line, "event:"):
		d.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		return nil
	case strings.HasPrefix(line, "data:"):
		payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		return d.decodePayload(payload)
	default:
		d.logger.Debug("Unknown stream line ignored", "line", line)
		return nil
	}
}

type metadataPayload struct {
	Concepts   []core.Concept   `json:"concepts"`
	References []core.Reference `json:"references"`
}

func (d *Decoder) decodePayload(payload string) core.StreamEvent {
	if !gjson.Valid(payload) {
		d.skip(payload, "invalid json")
		return nil
	}

	switch d.eventType {
	case EventMessage:
		text := gjson.Get(payload, "text")
		if text.Type != gjson.String {
			d.skip(payload, "message payload without text")
			return nil
		}
		return core.DeltaEvent{Text: text.String()}
	case EventMetadata:
		var md metadataPayload
		if err := json.Unmarshal([]byte(payload), &md); err != nil {
			d.skip(payload, err.Error())
			return nil
		}
		return core.MetadataEvent{Concepts: md.Concepts, References: md.References}
	case EventError:
		msg := gjson.Get(payload, "error")
		if !msg.Exists() {
			d.skip(payload, "error payload without error field")
			return nil
		}
		return core.ErrorEvent{Message: msg.String()}
	default:
		d.logger.Debug("Unknown stream event ignored", "event", d.eventType)
		return nil
	}
}

func (d *Decoder) skip(payload, reason string) {
	d.skipped++
	d.logger.Warn("Malformed frame skipped", "event", d.eventType, "payload", payload, "reason", reason)
}

// Stream decodes r in a separate goroutine. Events are delivered in arrival
// order; the events channel closes at end of stream, and a reader failure is
// delivered on the error channel before both channels close.
func Stream(ctx context.Context, r io.Reader, logger logging.Logger) (<-chan core.StreamEvent, <-chan error) {
	out := make(chan core.StreamEvent, 16)
	errCh := make(chan error, 1)
	dec := NewDecoder(r, logger)

	go func() {
		defer close(out)
		defer close(errCh)
		for {
			ev, err := dec.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()

	return out, errCh
}
