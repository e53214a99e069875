package server

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go-bridge/worker"
)

// Transport is the framed stream the adapter reads requests from and writes
// responses to. *worker.Worker implements it.
type Transport interface {
	// Receive returns the next request message, or io.EOF when there are
	// no more.
	Receive() (*worker.Payload, error)
	Send(*worker.Payload) error
	// Error reports a failure out of band, in place of a response.
	Error(message string) error
}

type DecodeStatus int

const (
	DecodeOK DecodeStatus = iota
	DecodeEndOfStream
	DecodeMalformed
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeOK:
		return "ok"
	case DecodeEndOfStream:
		return "end-of-stream"
	case DecodeMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("DecodeStatus(%d)", int(s))
	}
}

// Decoded is the outcome of reading one request: a Request when Status is
// DecodeOK, otherwise the Reason it could not be produced.
type Decoded struct {
	Status  DecodeStatus
	Request *Request
	Reason  error
}

// Recoverable reports whether the stream is still in sync after a malformed
// request, so the next one can be read.
func (d Decoded) Recoverable() bool {
	var me *MalformedError
	return d.Status == DecodeMalformed && errors.As(d.Reason, &me) && me.Stage == StageContext
}

// WireAdapter converts between wire messages and Request/Response values.
// It keeps no state between calls.
type WireAdapter struct {
	transport Transport
	codec     Codec
}

// NewWireAdapter returns an adapter writing response contexts with codec.
// Request contexts are decoded with whichever codec their frame flags name.
func NewWireAdapter(t Transport, codec Codec) *WireAdapter {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &WireAdapter{transport: t, codec: codec}
}

// Decode reads one message from the transport.
func (a *WireAdapter) Decode() Decoded {
	p, err := a.transport.Receive()
	if err != nil {
		if isEndOfStream(err) {
			return Decoded{Status: DecodeEndOfStream, Reason: err}
		}
		return Decoded{Status: DecodeMalformed, Reason: &MalformedError{Stage: StageFrame, Err: err}}
	}
	if p == nil {
		return Decoded{Status: DecodeEndOfStream, Reason: io.EOF}
	}

	var rc RequestContext
	if err := codecFor(p.Flags).Unmarshal(p.Context, &rc); err != nil {
		return malformedContext(err)
	}
	if rc.URI == "" {
		return malformedContext(errors.New("missing uri"))
	}
	if rc.Method == "" {
		return malformedContext(errors.New("missing method"))
	}

	req, err := newRequest(&rc, p.Body)
	if err != nil {
		return malformedContext(fmt.Errorf("parse uri: %w", err))
	}
	return Decoded{Status: DecodeOK, Request: req}
}

// AcceptRequest returns the next request, or false when there is none. End of
// stream and malformed input are not told apart.
func (a *WireAdapter) AcceptRequest() (*Request, bool) {
	d := a.Decode()
	if d.Status != DecodeOK {
		return nil, false
	}
	return d.Request, true
}

// Encode writes resp to the transport.
func (a *WireAdapter) Encode(resp *Response) error {
	if resp == nil {
		resp = NewResponse()
	}

	body, err := resp.ReadBody()
	if err != nil {
		return &EncodeError{Op: "body", Err: err}
	}

	ctx, err := a.codec.Marshal(ResponseContext{
		Status:  resp.StatusCode(),
		Headers: resp.Header,
	})
	if err != nil {
		return &EncodeError{Op: "marshal", Err: err}
	}

	err = a.transport.Send(&worker.Payload{
		Flags:   a.codec.Flag(),
		Context: ctx,
		Body:    body,
	})
	if err != nil {
		return &EncodeError{Op: "send", Err: err}
	}
	return nil
}

func malformedContext(err error) Decoded {
	return Decoded{Status: DecodeMalformed, Reason: &MalformedError{Stage: StageContext, Err: err}}
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
