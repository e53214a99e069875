package server

import (
	"bytes"
	"io"
	"net/http"
)

// Response is built by the dispatcher and written back by the wire adapter.
// A zero Status is sent as 200 and a nil Body as an empty body.
type Response struct {
	Status int
	Header Header
	Body   io.Reader
}

func NewResponse() *Response {
	return &Response{}
}

// StatusCode returns the status that will be sent.
func (r *Response) StatusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// Write appends p to the body.
func (r *Response) Write(p []byte) (int, error) {
	switch b := r.Body.(type) {
	case nil:
		buf := new(bytes.Buffer)
		r.Body = buf
		return buf.Write(p)
	case *bytes.Buffer:
		return b.Write(p)
	default:
		r.Body = io.MultiReader(b, bytes.NewReader(append([]byte(nil), p...)))
		return len(p), nil
	}
}

func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// SetBody replaces the body with b.
func (r *Response) SetBody(b []byte) {
	r.Body = bytes.NewReader(b)
}

// ReadBody drains the body and closes it when it is an io.Closer.
func (r *Response) ReadBody() ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	if c, ok := r.Body.(io.Closer); ok {
		defer c.Close()
	}
	return io.ReadAll(r.Body)
}
