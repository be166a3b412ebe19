package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/hupe1980/streamchat/core"
)

// Encoder writes frames understood by Decoder. When the underlying writer
// implements http.Flusher every frame is flushed immediately.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// WriteDelta writes a message frame carrying one text fragment.
func (e *Encoder) WriteDelta(text string) error {
	payload, err := sjson.Set("{}", "text", text)
	if err != nil {
		return err
	}
	return e.writeFrame(EventMessage, payload)
}

// WriteMetadata writes a metadata frame.
func (e *Encoder) WriteMetadata(concepts []core.Concept, references []core.Reference) error {
	if concepts == nil {
		concepts = []core.Concept{}
	}
	if references == nil {
		references = []core.Reference{}
	}
	payload, err := json.Marshal(metadataPayload{Concepts: concepts, References: references})
	if err != nil {
		return err
	}
	return e.writeFrame(EventMetadata, string(payload))
}

// WriteError writes an error frame. The receiving decoder stops after it.
func (e *Encoder) WriteError(msg string) error {
	payload, err := sjson.Set("{}", "error", msg)
	if err != nil {
		return err
	}
	return e.writeFrame(EventError, payload)
}

// WriteEvent writes any core.StreamEvent.
func (e *Encoder) WriteEvent(ev core.StreamEvent) error {
	switch v := ev.(type) {
	case core.DeltaEvent:
		return e.WriteDelta(v.Text)
	case core.MetadataEvent:
		return e.WriteMetadata(v.Concepts, v.References)
	case core.ErrorEvent:
		return e.WriteError(v.Message)
	default:
		return fmt.Errorf("unsupported stream event %T", ev)
	}
}

func (e *Encoder) writeFrame(event, payload string) error {
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
