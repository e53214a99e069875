// Package server runs the worker side request loop: decode a request from
// the transport, hand it to the application's Dispatcher and write the
// response back, one request at a time until the transport runs dry.
package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "go-bridge/server"

// Server owns a transport for its whole lifetime and serves requests from it
// sequentially.
type Server struct {
	transport  Transport
	adapter    *WireAdapter
	dispatcher Dispatcher

	log        *zap.SugaredLogger
	codec      Codec
	strict     bool
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	stats stats
}

type Option func(s *Server)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithCodec sets the codec used for response contexts. JSON by default.
func WithCodec(c Codec) Option {
	return func(s *Server) {
		s.codec = c
	}
}

// WithStrictFrames makes the loop skip a request whose context cannot be
// decoded, reporting it on the error channel, instead of stopping. Framing
// errors still stop the loop.
func WithStrictFrames(strict bool) Option {
	return func(s *Server) {
		s.strict = strict
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp.Tracer(tracerName)
	}
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(s *Server) {
		s.propagator = p
	}
}

func New(t Transport, d Dispatcher, opts ...Option) *Server {
	s := &Server{
		transport:  t,
		dispatcher: d,
		log:        zap.NewNop().Sugar(),
		codec:      JSONCodec{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.propagator == nil {
		s.propagator = otel.GetTextMapPropagator()
	}
	s.adapter = NewWireAdapter(t, s.codec)
	return s
}

// Serve is shorthand for New(t, d, opts...).Serve(ctx).
func Serve(ctx context.Context, t Transport, d Dispatcher, opts ...Option) error {
	return New(t, d, opts...).Serve(ctx)
}

// Serve handles requests until the transport signals end of stream, which
// returns nil. Dispatcher errors, panics and responses that cannot be encoded
// are reported on the transport's error channel and the loop carries on. A
// failure to write a response or an error report is returned; the transport
// is assumed broken at that point.
//
// ctx is the parent of every request context. Serve does not watch it for
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Debug("awaiting requests")
	defer func() {
		st := s.stats.snapshot()
		s.log.Infow("serve loop stopped",
			"accepted", st.Accepted,
			"responded", st.Responded,
			"failed", st.Failed,
			"malformed", st.Malformed,
		)
	}()

	for {
		d := s.adapter.Decode()
		switch d.Status {
		case DecodeEndOfStream:
			s.log.Debug("end of stream")
			return nil

		case DecodeMalformed:
			s.stats.malformed()
			if s.strict && d.Recoverable() {
				s.log.Warnw("skipping malformed request", "error", d.Reason)
				if err := s.transport.Error(d.Reason.Error()); err != nil {
					return fmt.Errorf("reporting malformed request: %w", err)
				}
				continue
			}
			s.log.Warnw("malformed request, stopping as end of stream", "error", d.Reason)
			return nil
		}

		if err := s.handle(ctx, d.Request); err != nil {
			return err
		}
	}
}

// Stats returns a snapshot of the cycle counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

func (s *Server) handle(ctx context.Context, req *Request) error {
	start := time.Now()
	s.stats.accept()

	ctx = s.propagator.Extract(ctx, headerCarrier{h: &req.Header})
	ctx, span := s.tracer.Start(ctx, req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
			attribute.Int("http.request.body.size", len(req.Body)),
		),
	)
	defer span.End()

	log := s.log.With(
		"request_id", requestID(req),
		"method", req.Method,
		"uri", req.URL.String(),
	)

	resp, failure := s.dispatch(req.WithContext(ctx))
	if failure != nil {
		log.Errorw("dispatch failed", "error", failure.Err, "panic", failure.Stack != nil)
		return s.report(span, start, failure)
	}

	if err := s.adapter.Encode(resp); err != nil {
		var ee *EncodeError
		if errors.As(err, &ee) && ee.Op != "send" {
			// Nothing reached the transport yet, so the peer still expects
			// an answer for this request.
			log.Errorw("encoding response failed", "error", err)
			return s.report(span, start, &Failure{Method: req.Method, URI: req.URL.String(), Err: err})
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Errorw("writing response failed", "error", err)
		return err
	}

	elapsed := time.Since(start)
	s.stats.end(elapsed, false)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))
	log.Debugw("request served", "status", resp.StatusCode(), "duration", elapsed)
	return nil
}

// report sends failure on the error channel. Only a failure to deliver the
// report is returned.
func (s *Server) report(span trace.Span, start time.Time, failure *Failure) error {
	s.stats.end(time.Since(start), true)
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())

	if err := s.transport.Error(failure.String()); err != nil {
		return fmt.Errorf("reporting failure: %w", err)
	}
	return nil
}

// dispatch runs the dispatcher, turning an error or a panic into a Failure.
func (s *Server) dispatch(req *Request) (resp *Response, failure *Failure) {
	empty := NewResponse()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			failure = &Failure{
				Method: req.Method,
				URI:    req.URL.String(),
				Err:    &PanicError{Value: r},
				Stack:  debug.Stack(),
			}
		}
	}()

	out, err := s.dispatcher.Route(req, empty)
	if err != nil {
		return nil, &Failure{Method: req.Method, URI: req.URL.String(), Err: err}
	}
	if out == nil {
		out = empty
	}
	return out, nil
}
