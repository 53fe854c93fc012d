package chatstream

import (
	"bufio"
	"bytes"
	"context"
	"io"
)

// ChunkSource yields raw chunks from the upstream transport. Next returns
// io.EOF once the stream is exhausted.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

const maxFrameSize = 1 << 20

type readerSource struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

// NewReaderSource frames an upstream body into chunks. SSE bodies are split
// on blank lines, anything else on newlines. Reads are expected to unblock
// when the request that produced rc is cancelled.
func NewReaderSource(rc io.ReadCloser) ChunkSource {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	sc.Split(splitFrames)
	return &readerSource{rc: rc, scanner: sc}
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.scanner.Scan() {
		tok := s.scanner.Bytes()
		out := make([]byte, len(tok))
		copy(out, tok)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *readerSource) Close() error { return s.rc.Close() }

// SliceSource replays fixed chunks, mostly useful in tests and for
// upstreams that return a complete body.
type SliceSource struct {
	chunks [][]byte
	pos    int
}

func NewSliceSource(chunks ...string) *SliceSource {
	s := &SliceSource{}
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
	return s
}

func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *SliceSource) Close() error { return nil }

var sseFieldPrefixes = [][]byte{
	[]byte("event:"), []byte("data:"), []byte("id:"), []byte("retry:"), []byte(":"),
}

func isSSEFrame(b []byte) bool {
	for _, p := range sseFieldPrefixes {
		if bytes.HasPrefix(b, p) {
			return true
		}
	}
	return false
}

// splitFrames is a bufio.SplitFunc that yields one SSE event or one ND-JSON
// line per token, skipping blank lines between them.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	body := data[start:]
	if len(body) == 0 {
		return start, nil, nil
	}

	if isSSEFrame(body) {
		if end, next := blankLine(body); end >= 0 {
			return start + next, body[:end], nil
		}
	} else if i := bytes.IndexByte(body, '\n'); i >= 0 {
		return start + i + 1, bytes.TrimRight(body[:i], "\r"), nil
	}

	if atEOF {
		return len(data), body, nil
	}
	return start, nil, nil
}

// blankLine finds the first empty line in b, accepting LF or CRLF endings.
// It returns the end of the frame before it and the offset just past it, or
// -1 when there is none yet.
func blankLine(b []byte) (end, next int) {
	for i := 0; i < len(b); i++ {
		if b[i] != '\n' {
			continue
		}
		j := i + 1
		if j < len(b) && b[j] == '\r' {
			j++
		}
		if j < len(b) && b[j] == '\n' {
			end = i
			if end > 0 && b[end-1] == '\r' {
				end--
			}
			return end, j + 1
		}
	}
	return -1, -1
}
