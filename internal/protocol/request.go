package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// maxRequestBody bounds upload bodies. A full backlog push from a device
// stays well under this.
const maxRequestBody = 2 << 20

var errBadRequestLine = errors.New("malformed request line")

// request is the subset of HTTP the push firmware actually speaks: one
// request line, a handful of headers and an optional body framed by
// Content-Length. The devices use neither chunked encoding nor keep-alive.
type request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

func readRequest(r *bufio.Reader) (*request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read request line: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, errBadRequestLine
	}
	target, err := url.ParseRequestURI(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parse request target %q: %w", fields[1], err)
	}
	req := &request{
		Method: strings.ToUpper(fields[0]),
		Path:   target.Path,
		Query:  target.Query(),
	}

	contentLength := 0
	for {
		h, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		h = strings.TrimRight(h, "\r\n")
		if h == "" {
			break
		}
		name, value, ok := strings.Cut(h, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("parse Content-Length %q: %w", value, err)
		}
		contentLength = n
	}
	if contentLength < 0 || contentLength > maxRequestBody {
		return nil, fmt.Errorf("content length %d out of range", contentLength)
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		req.Body = body
	}
	return req, nil
}

// serial pulls the device serial from the query string, falling back to an
// SN= pair inside the body.
func (r *request) serial() string {
	if sn := r.Query.Get("SN"); sn != "" {
		return sn
	}
	for _, tok := range strings.FieldsFunc(string(r.Body), func(c rune) bool {
		return c == '&' || c == ' ' || c == '\t' || c == '\r' || c == '\n'
	}) {
		if v, ok := strings.CutPrefix(tok, "SN="); ok {
			return v
		}
	}
	return ""
}
