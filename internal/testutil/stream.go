package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/sse"
)

// FrameBuilder assembles a chat stream body for tests.
// Example:
//
//	body := NewFrameBuilder().Delta("Ol").Delta("á").Metadata(nil, nil).Chunks(3)
type FrameBuilder struct {
	buf bytes.Buffer
	enc *sse.Encoder
}

// NewFrameBuilder creates an empty FrameBuilder.
func NewFrameBuilder() *FrameBuilder {
	b := &FrameBuilder{}
	b.enc = sse.NewEncoder(&b.buf)
	return b
}

// Delta appends a message frame (chainable).
func (b *FrameBuilder) Delta(text string) *FrameBuilder {
	_ = b.enc.WriteDelta(text)
	return b
}

// Metadata appends a metadata frame (chainable).
func (b *FrameBuilder) Metadata(concepts []core.Concept, references []core.Reference) *FrameBuilder {
	_ = b.enc.WriteMetadata(concepts, references)
	return b
}

// Error appends an error frame (chainable).
func (b *FrameBuilder) Error(msg string) *FrameBuilder {
	_ = b.enc.WriteError(msg)
	return b
}

// Raw appends text verbatim (chainable).
func (b *FrameBuilder) Raw(s string) *FrameBuilder {
	b.buf.WriteString(s)
	return b
}

// Bytes returns the assembled body.
func (b *FrameBuilder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// Chunks splits the body into pieces of at most size bytes, ignoring line
// and rune boundaries.
func (b *FrameBuilder) Chunks(size int) [][]byte {
	data := b.Bytes()
	if size <= 0 {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// ChunkReader delivers one chunk per Read call. With Hold set it blocks after
// the last chunk until Close is called, like a stalled connection. With Fail
// set it returns that error after the last chunk, like a dropped connection.
type ChunkReader struct {
	Fail error

	chunks    [][]byte
	hold      bool
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChunkReader creates a reader over chunks.
func NewChunkReader(chunks [][]byte, hold bool) *ChunkReader {
	return &ChunkReader{chunks: chunks, hold: hold, closed: make(chan struct{})}
}

// Read implements io.Reader.
func (r *ChunkReader) Read(p []byte) (int, error) {
	select {
	case <-r.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	if len(r.chunks) == 0 {
		if r.Fail != nil {
			return 0, r.Fail
		}
		if r.hold {
			<-r.closed
			return 0, io.ErrClosedPipe
		}
		return 0, io.EOF
	}

	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// Close implements io.Closer.
func (r *ChunkReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

// Reply is one scripted dispatch outcome.
type Reply struct {
	// Err is returned instead of a body.
	Err error
	// Chunks is the response body, delivered one chunk per read.
	Chunks [][]byte
	// Hold keeps the body open after the last chunk until it is closed.
	Hold bool
	// ReadErr is returned by the body after the last chunk.
	ReadErr error
}

// ScriptedDispatcher is a core.Dispatcher replaying scripted replies in
// order. The last reply repeats once the script is exhausted.
type ScriptedDispatcher struct {
	mu       sync.Mutex
	replies  []Reply
	requests []core.ChatRequest
}

var _ core.Dispatcher = (*ScriptedDispatcher)(nil)

// NewScriptedDispatcher creates a dispatcher for replies.
func NewScriptedDispatcher(replies ...Reply) *ScriptedDispatcher {
	return &ScriptedDispatcher{replies: replies}
}

// Dispatch implements core.Dispatcher.
func (d *ScriptedDispatcher) Dispatch(ctx context.Context, req core.ChatRequest) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.replies) == 0 {
		return nil, io.ErrUnexpectedEOF
	}

	reply := d.replies[0]
	if len(d.replies) > 1 {
		d.replies = d.replies[1:]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	chunks := make([][]byte, len(reply.Chunks))
	for i, c := range reply.Chunks {
		chunks[i] = bytes.Clone(c)
	}
	r := NewChunkReader(chunks, reply.Hold)
	r.Fail = reply.ReadErr
	return r, nil
}

// Calls returns the number of dispatches.
func (d *ScriptedDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.requests)
}

// Requests returns the dispatched requests.
func (d *ScriptedDispatcher) Requests() []core.ChatRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]core.ChatRequest(nil), d.requests...)
}
