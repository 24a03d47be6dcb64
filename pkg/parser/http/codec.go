// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	perrors "github.com/absmach/evproxy/pkg/errors"
)

const (
	// MaxHeaders is the largest number of header fields a message may carry.
	MaxHeaders = 64

	// MaxHeadBytes bounds the start line plus header section.
	MaxHeadBytes = 64 << 10
)

// ErrMalformed is wrapped by every structural parse error.
var ErrMalformed = perrors.ErrMalformed

// Header is one header field in wire order. Name keeps its original case.
type Header struct {
	Name  string
	Value []byte
}

// Request is a parsed HTTP/1.x request. Body holds the body exactly as it
// appeared on the wire, still chunk-encoded when Chunked is set.
type Request struct {
	Method  string
	Path    string
	Minor   int
	Headers []Header
	Body    []byte
	Chunked bool
}

// Response is a parsed HTTP/1.x response. When UntilClose is set the body
// has no framing and extends to the end of the stream; Body then holds only
// the bytes seen so far.
type Response struct {
	Minor      int
	Code       int
	Reason     string
	Headers    []Header
	Body       []byte
	Chunked    bool
	UntilClose bool
}

// Header returns the value of the first field named name, ignoring case.
func (r *Request) Header(name string) ([]byte, bool) {
	return lookup(r.Headers, name)
}

// Header returns the value of the first field named name, ignoring case.
func (r *Response) Header(name string) ([]byte, bool) {
	return lookup(r.Headers, name)
}

// WithHeader returns a copy of r with one more header field appended.
func (r *Request) WithHeader(name, value string) *Request {
	c := *r
	c.Headers = make([]Header, len(r.Headers), len(r.Headers)+1)
	copy(c.Headers, r.Headers)
	c.Headers = append(c.Headers, Header{Name: name, Value: []byte(value)})
	return &c
}

// Bytes encodes the request line, every header in order, and the body.
func (r *Request) Bytes() []byte {
	var b bytes.Buffer
	b.Grow(len(r.Method) + len(r.Path) + 16 + len(r.Body) + 32*len(r.Headers))
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.Path)
	b.WriteString(" HTTP/1.")
	b.WriteString(strconv.Itoa(r.Minor))
	b.WriteString("\r\n")
	writeHeaders(&b, r.Headers)
	b.Write(r.Body)
	return b.Bytes()
}

// Bytes encodes the status line, every header in order, and the body.
func (r *Response) Bytes() []byte {
	var b bytes.Buffer
	b.Grow(len(r.Reason) + 16 + len(r.Body) + 32*len(r.Headers))
	b.WriteString("HTTP/1.")
	b.WriteString(strconv.Itoa(r.Minor))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.Code))
	b.WriteByte(' ')
	b.WriteString(r.Reason)
	b.WriteString("\r\n")
	writeHeaders(&b, r.Headers)
	b.Write(r.Body)
	return b.Bytes()
}

func writeHeaders(b *bytes.Buffer, headers []Header) {
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.Write(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
}

// ParseRequest parses the first request in b. It returns n == 0 and a nil
// error when b does not hold a complete request yet.
func ParseRequest(b []byte) (*Request, int, error) {
	lead := leadingBlank(b)
	msg := b[lead:]
	head, err := headLen(msg)
	if err != nil || head == 0 {
		return nil, 0, err
	}

	br, src := newReader(msg)
	hr, err := http.ReadRequest(br)
	if err != nil {
		return nil, 0, malformed(err)
	}
	if hr.ProtoMajor != 1 {
		return nil, 0, fmt.Errorf("%w: version %q", ErrMalformed, hr.Proto)
	}
	headers, err := headerFields(msg[:head])
	if err != nil {
		return nil, 0, err
	}
	n, err := drain(hr.Body, msg, br, src)
	if err != nil || n == 0 {
		return nil, 0, err
	}

	return &Request{
		Method:  hr.Method,
		Path:    hr.RequestURI,
		Minor:   hr.ProtoMinor,
		Headers: headers,
		Body:    msg[head:n],
		Chunked: hr.ProtoMinor >= 1 && isChunked(headers),
	}, lead + n, nil
}

// ParseResponse parses the first response in b.
func ParseResponse(b []byte) (*Response, int, error) {
	return parseResponse(b, false)
}

// parseResponse parses a response; bodiless is set for replies to HEAD.
func parseResponse(b []byte, bodiless bool) (*Response, int, error) {
	lead := leadingBlank(b)
	msg := b[lead:]
	head, err := headLen(msg)
	if err != nil || head == 0 {
		return nil, 0, err
	}

	method := http.MethodGet
	if bodiless {
		method = http.MethodHead
	}
	br, src := newReader(msg)
	hr, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		return nil, 0, malformed(err)
	}
	if hr.ProtoMajor != 1 {
		return nil, 0, fmt.Errorf("%w: version %q", ErrMalformed, hr.Proto)
	}
	if hr.StatusCode < 100 {
		return nil, 0, fmt.Errorf("%w: status code %d", ErrMalformed, hr.StatusCode)
	}
	headers, err := headerFields(msg[:head])
	if err != nil {
		return nil, 0, err
	}
	n, err := drain(hr.Body, msg, br, src)
	if err != nil || n == 0 {
		return nil, 0, err
	}

	_, reason, _ := strings.Cut(hr.Status, " ")
	resp := &Response{
		Minor:   hr.ProtoMinor,
		Code:    hr.StatusCode,
		Reason:  reason,
		Headers: headers,
		Body:    msg[head:n],
	}
	hasBody := !bodiless && hr.StatusCode >= 200 && hr.StatusCode != 204 && hr.StatusCode != 304
	if hasBody {
		resp.Chunked = hr.ProtoMinor >= 1 && isChunked(headers)
		resp.UntilClose = !resp.Chunked && hr.ContentLength < 0
	}
	return resp, lead + n, nil
}

// newReader wraps msg for net/http. The second result reports how much of
// msg the bufio.Reader has pulled in.
func newReader(msg []byte) (*bufio.Reader, *bytes.Reader) {
	src := bytes.NewReader(msg)
	return bufio.NewReader(src), src
}

// drain reads the body as net/http frames it and returns the offset just past
// the message, or 0 when the body has not fully arrived.
func drain(body io.ReadCloser, msg []byte, br *bufio.Reader, src *bytes.Reader) (int, error) {
	_, err := io.Copy(io.Discard, body)
	body.Close()
	if err != nil {
		if truncated(err) {
			return 0, nil
		}
		return 0, malformed(err)
	}
	return len(msg) - src.Len() - br.Buffered(), nil
}

// truncated reports whether err means the input ended inside the message.
// net/http reports a cut trailer section with its own unexported error.
func truncated(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "unexpected EOF")
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// leadingBlank counts empty lines sent before a start line.
func leadingBlank(b []byte) int {
	return len(b) - len(bytes.TrimLeft(b, "\r\n"))
}

// headLen returns the length of the start line and header section including
// the empty line that ends it, or 0 when that line has not arrived.
func headLen(b []byte) (int, error) {
	lines := 0
	for pos := 0; ; {
		i := bytes.IndexByte(b[pos:], '\n')
		if i < 0 {
			if len(b) > MaxHeadBytes {
				return 0, fmt.Errorf("%w: head exceeds %d bytes", ErrMalformed, MaxHeadBytes)
			}
			return 0, nil
		}
		line := bytes.TrimSuffix(b[pos:pos+i], []byte("\r"))
		pos += i + 1
		if pos > MaxHeadBytes {
			return 0, fmt.Errorf("%w: head exceeds %d bytes", ErrMalformed, MaxHeadBytes)
		}
		if len(line) == 0 {
			return pos, nil
		}
		if lines++; lines > MaxHeaders+1 {
			return 0, fmt.Errorf("%w: more than %d header fields", ErrMalformed, MaxHeaders)
		}
	}
}

// headerFields lists the fields of a head net/http has already accepted, in
// wire order and with their original case. Folded lines join the field
// before them.
func headerFields(head []byte) ([]Header, error) {
	lines := bytes.Split(bytes.TrimRight(head, "\r\n"), []byte("\n"))
	headers := make([]Header, 0, len(lines)-1)
	for _, line := range lines[1:] {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, fmt.Errorf("%w: leading continuation line", ErrMalformed)
			}
			last := &headers[len(headers)-1]
			last.Value = append(append(last.Value[:len(last.Value):len(last.Value)], ' '), bytes.TrimSpace(line)...)
			continue
		}
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		headers = append(headers, Header{
			Name:  string(name),
			Value: bytes.TrimSpace(value),
		})
	}
	return headers, nil
}

func isChunked(headers []Header) bool {
	v, ok := lookup(headers, "Transfer-Encoding")
	return ok && strings.EqualFold(strings.TrimSpace(string(v)), "chunked")
}

func lookup(headers []Header, name string) ([]byte, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return nil, false
}
