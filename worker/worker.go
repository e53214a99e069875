// Package worker implements the worker side of the message exchange: every
// message is a control frame carrying the encoded context followed by a raw
// frame carrying the body.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go-bridge/relay"

	"go.uber.org/zap"
)

// ErrProtocol reports frames arriving in an order the protocol does not allow.
// The stream cannot be resynchronised after it.
var ErrProtocol = errors.New("worker: protocol violation")

// Relay is the framed byte stream a Worker talks over.
type Relay interface {
	Send(relay.Frame) error
	Receive() (relay.Frame, error)
}

// Payload is one request or response message. Flags are the flags of the
// context frame.
type Payload struct {
	Flags   relay.Flag
	Context []byte
	Body    []byte
}

// Command is a control message sent by the front end instead of a request.
type Command struct {
	Stop bool `json:"stop,omitempty"`
	Pid  bool `json:"pid,omitempty"`
}

// StopCommand is the encoded control body that ends the stream.
var StopCommand = []byte(`{"stop":true}`)

// PidCommand is the encoded control body asking the worker for its pid.
var PidCommand = []byte(`{"pid":true}`)

type pidReply struct {
	Pid int `json:"pid"`
}

type Worker struct {
	relay Relay
	log   *zap.SugaredLogger
	pid   int
}

type Option func(w *Worker)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Worker) {
		w.log = l
	}
}

// WithPid overrides the pid reported to the front end.
func WithPid(pid int) Option {
	return func(w *Worker) {
		w.pid = pid
	}
}

func New(r Relay, opts ...Option) *Worker {
	w := &Worker{
		relay: r,
		log:   zap.NewNop().Sugar(),
		pid:   os.Getpid(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Receive returns the next request message. It answers pid commands inline
// and returns io.EOF when the stream closes or a stop command arrives.
func (w *Worker) Receive() (*Payload, error) {
	for {
		head, err := w.relay.Receive()
		if err != nil {
			return nil, err
		}

		if head.Flags.Has(relay.PayloadError) || !head.Flags.Has(relay.PayloadControl) {
			return nil, fmt.Errorf("%w: expected context frame, got flags %s", ErrProtocol, head.Flags)
		}

		if cmd, ok := parseCommand(head); ok {
			if cmd.Stop {
				w.log.Debug("received stop command")
				return nil, io.EOF
			}
			if err := w.replyPid(); err != nil {
				return nil, err
			}
			continue
		}

		body, err := w.relay.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if body.Flags.Has(relay.PayloadControl) {
			return nil, fmt.Errorf("%w: expected body frame, got flags %s", ErrProtocol, body.Flags)
		}

		return &Payload{
			Flags:   head.Flags,
			Context: head.Body,
			Body:    body.Body,
		}, nil
	}
}

// Send writes a response message.
func (w *Worker) Send(p *Payload) error {
	if err := w.relay.Send(relay.Frame{Flags: p.Flags | relay.PayloadControl, Body: p.Context}); err != nil {
		return err
	}

	flags := relay.PayloadRaw
	if len(p.Body) == 0 {
		flags |= relay.PayloadEmpty
	}
	return w.relay.Send(relay.Frame{Flags: flags, Body: p.Body})
}

// Error reports a failure on the out-of-band channel. The front end receives
// it in place of a response message.
func (w *Worker) Error(message string) error {
	return w.relay.Send(relay.Frame{
		Flags: relay.PayloadControl | relay.PayloadRaw | relay.PayloadError,
		Body:  []byte(message),
	})
}

func (w *Worker) replyPid() error {
	w.log.Debugw("answering pid command", "pid", w.pid)
	b, err := json.Marshal(pidReply{Pid: w.pid})
	if err != nil {
		return err
	}
	return w.relay.Send(relay.Frame{Flags: relay.PayloadControl, Body: b})
}

// parseCommand recognises stop and pid control frames. Anything else,
// including a context that fails to parse, is treated as a request.
func parseCommand(f relay.Frame) (Command, bool) {
	if f.Flags.Has(relay.CodecCBOR) {
		return Command{}, false
	}
	var msg struct {
		Command
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(f.Body, &msg); err != nil || msg.URI != "" {
		return Command{}, false
	}
	return msg.Command, msg.Stop || msg.Pid
}
