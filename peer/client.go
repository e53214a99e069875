// Package peer speaks the front-end side of the worker protocol: it sends
// request messages and reads back either a response message or an error
// report.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go-bridge/relay"
	"go-bridge/server"
	"go-bridge/worker"
)

// Request is a request to send to a worker.
type Request struct {
	URI        string
	Method     string
	Headers    server.Header
	Query      map[string]string
	RemoteAddr string
	Protocol   string
	Body       []byte
}

// Response is a worker's answer.
type Response struct {
	Status  int
	Headers server.Header
	Body    []byte
}

// WorkerError is a failure the worker reported on its error channel instead
// of a response. The worker is still usable after it.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "worker error: " + e.Message
}

// Client exchanges messages with a single worker. Calls are serialised.
type Client struct {
	relay worker.Relay
	codec server.Codec
	mu    sync.Mutex
}

type ClientOption func(c *Client)

// WithClientCodec sets the codec used for request contexts.
func WithClientCodec(codec server.Codec) ClientOption {
	return func(c *Client) {
		c.codec = codec
	}
}

func NewClient(r worker.Relay, opts ...ClientOption) *Client {
	c := &Client{relay: r, codec: server.JSONCodec{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req and waits for the worker's answer.
func (c *Client) Do(req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.codec.Marshal(server.RequestContext{
		URI:        req.URI,
		Method:     req.Method,
		Headers:    req.Headers,
		Query:      req.Query,
		RemoteAddr: req.RemoteAddr,
		Protocol:   req.Protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request context: %w", err)
	}

	if err := c.relay.Send(relay.Frame{Flags: relay.PayloadControl | c.codec.Flag(), Body: ctx}); err != nil {
		return nil, err
	}
	bodyFlags := relay.PayloadRaw
	if len(req.Body) == 0 {
		bodyFlags |= relay.PayloadEmpty
	}
	if err := c.relay.Send(relay.Frame{Flags: bodyFlags, Body: req.Body}); err != nil {
		return nil, err
	}

	head, err := c.relay.Receive()
	if err != nil {
		return nil, err
	}
	if head.Flags.Has(relay.PayloadError) {
		return nil, &WorkerError{Message: string(head.Body)}
	}
	if !head.Flags.Has(relay.PayloadControl) {
		return nil, fmt.Errorf("%w: expected response context, got flags %s", worker.ErrProtocol, head.Flags)
	}

	body, err := c.relay.Receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var rc server.ResponseContext
	codec := server.Codec(server.JSONCodec{})
	if head.Flags.Has(relay.CodecCBOR) {
		codec = server.CBORCodec{}
	}
	if err := codec.Unmarshal(head.Body, &rc); err != nil {
		return nil, fmt.Errorf("decoding response context: %w", err)
	}

	return &Response{
		Status:  rc.Status,
		Headers: rc.Headers,
		Body:    body.Body,
	}, nil
}

// Stop asks the worker to leave its serve loop.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relay.Send(relay.Frame{Flags: relay.PayloadControl, Body: worker.StopCommand})
}

// Pid asks the worker for its process id.
func (c *Client) Pid() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.relay.Send(relay.Frame{Flags: relay.PayloadControl, Body: worker.PidCommand}); err != nil {
		return 0, err
	}
	f, err := c.relay.Receive()
	if err != nil {
		return 0, err
	}

	var reply struct {
		Pid int `json:"pid"`
	}
	if err := json.Unmarshal(f.Body, &reply); err != nil {
		return 0, fmt.Errorf("decoding pid reply: %w", err)
	}
	return reply.Pid, nil
}
