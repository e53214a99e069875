package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"go-bridge/relay"
	"go-bridge/worker"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestServeItemsScenario(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/items","method":"GET","headers":{}}`, ""))

	var got *Request
	err := Serve(context.Background(), tr, DispatchFunc(func(req *Request, resp *Response) (*Response, error) {
		got = req
		resp.Status = 200
		resp.Header.Set("Content-Type", "application/json")
		_, _ = resp.WriteString("[]")
		return resp, nil
	}), WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)

	require.Equal(t, "/items", got.URL.String())
	require.Equal(t, "GET", got.Method)

	require.Len(t, tr.sent, 1)
	require.Empty(t, tr.errors)
	rc, body := sentResponse(t, tr.sent[0])
	require.Equal(t, 200, rc.Status)
	require.Equal(t, []string{"Content-Type"}, rc.Headers.Keys())
	require.Equal(t, []string{"application/json"}, rc.Headers.Values("Content-Type"))
	require.Equal(t, "[]", body)
}

func TestServeEndOfStreamFirst(t *testing.T) {
	called := false
	err := Serve(context.Background(), &fakeTransport{}, DispatchFunc(func(*Request, *Response) (*Response, error) {
		called = true
		return nil, nil
	}))
	require.NoError(t, err)
	require.False(t, called)
}

func TestServeFailureThenSuccess(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/fail","method":"GET"}`, ""))
	tr.push(jsonRequest(t, `{"uri":"/ok","method":"GET"}`, ""))

	s := New(tr, DispatchFunc(func(req *Request, resp *Response) (*Response, error) {
		if req.URL.Path == "/fail" {
			return nil, errors.New("database unavailable")
		}
		_, _ = resp.WriteString("fine")
		return resp, nil
	}))
	require.NoError(t, s.Serve(context.Background()))

	require.Len(t, tr.errors, 1)
	require.Contains(t, tr.errors[0], "database unavailable")
	require.Contains(t, tr.errors[0], "GET /fail")

	require.Len(t, tr.sent, 1)
	_, body := sentResponse(t, tr.sent[0])
	require.Equal(t, "fine", body)

	st := s.Stats()
	require.Equal(t, uint64(2), st.Accepted)
	require.Equal(t, uint64(1), st.Failed)
	require.Equal(t, uint64(1), st.Responded)
}

func TestServeRecoversPanic(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/boom","method":"GET"}`, ""))
	tr.push(jsonRequest(t, `{"uri":"/after","method":"GET"}`, ""))

	err := Serve(context.Background(), tr, DispatchFunc(func(req *Request, resp *Response) (*Response, error) {
		if req.URL.Path == "/boom" {
			panic("nil map write")
		}
		return resp, nil
	}))
	require.NoError(t, err)

	require.Len(t, tr.errors, 1)
	require.Contains(t, tr.errors[0], "panic: nil map write")
	require.Contains(t, tr.errors[0], "goroutine")
	require.Len(t, tr.sent, 1)
}

func TestServeNilResponseSendsEmpty(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))

	err := Serve(context.Background(), tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		resp.Status = 204
		return nil, nil
	}))
	require.NoError(t, err)

	rc, _ := sentResponse(t, tr.sent[0])
	require.Equal(t, 204, rc.Status)
}

func TestServeReplacedResponse(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))

	err := Serve(context.Background(), tr, DispatchFunc(func(*Request, *Response) (*Response, error) {
		return &Response{Status: 302, Body: bytes.NewReader([]byte("moved"))}, nil
	}))
	require.NoError(t, err)

	rc, body := sentResponse(t, tr.sent[0])
	require.Equal(t, 302, rc.Status)
	require.Equal(t, "moved", body)
}

func TestServeEncodeFailureReturned(t *testing.T) {
	tr := &fakeTransport{sendErr: io.ErrShortWrite}
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))
	tr.push(jsonRequest(t, `{"uri":"/never","method":"GET"}`, ""))

	calls := 0
	err := Serve(context.Background(), tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		calls++
		return resp, nil
	}))

	var ee *EncodeError
	require.ErrorAs(t, err, &ee)
	require.ErrorIs(t, err, io.ErrShortWrite)
	require.Equal(t, 1, calls)
}

func TestServeUnreadableBodyReported(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/bad","method":"GET"}`, ""))
	tr.push(jsonRequest(t, `{"uri":"/ok","method":"GET"}`, ""))

	calls := 0
	s := New(tr, DispatchFunc(func(req *Request, resp *Response) (*Response, error) {
		calls++
		if req.URL.Path == "/bad" {
			resp.Body = failingReader{}
			return resp, nil
		}
		_, _ = resp.WriteString("fine")
		return resp, nil
	}))
	require.NoError(t, s.Serve(context.Background()))

	require.Equal(t, 2, calls)
	require.Len(t, tr.errors, 1)
	require.Contains(t, tr.errors[0], "GET /bad")
	require.Contains(t, tr.errors[0], "disk gone")

	require.Len(t, tr.sent, 1)
	_, body := sentResponse(t, tr.sent[0])
	require.Equal(t, "fine", body)

	st := s.Stats()
	require.Equal(t, uint64(1), st.Failed)
	require.Equal(t, uint64(1), st.Responded)
}

type unmarshalableCodec struct{ JSONCodec }

func (unmarshalableCodec) Marshal(any) ([]byte, error) { return nil, errors.New("cannot encode") }

func TestServeMarshalFailureReported(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/a","method":"GET"}`, ""))
	tr.push(jsonRequest(t, `{"uri":"/b","method":"GET"}`, ""))

	calls := 0
	err := Serve(context.Background(), tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		calls++
		return resp, nil
	}), WithCodec(unmarshalableCodec{}))
	require.NoError(t, err)

	require.Equal(t, 2, calls)
	require.Len(t, tr.errors, 2)
	require.Contains(t, tr.errors[0], "marshal: cannot encode")
	require.Empty(t, tr.sent)
}

func TestServeErrorReportFailureReturned(t *testing.T) {
	tr := &fakeTransport{errorErr: io.ErrClosedPipe}
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))

	err := Serve(context.Background(), tr, DispatchFunc(func(*Request, *Response) (*Response, error) {
		return nil, errors.New("nope")
	}))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestServeMalformedStopsByDefault(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":`, ""))
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))

	calls := 0
	s := New(tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		calls++
		return resp, nil
	}))
	require.NoError(t, s.Serve(context.Background()))

	require.Zero(t, calls)
	require.Empty(t, tr.errors)
	require.Equal(t, uint64(1), s.Stats().Malformed)
}

func TestServeStrictSkipsMalformedContext(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(jsonRequest(t, `{"uri":"/"}`, ""))
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))

	calls := 0
	err := Serve(context.Background(), tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		calls++
		return resp, nil
	}), WithStrictFrames(true))
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Len(t, tr.errors, 1)
	require.Contains(t, tr.errors[0], "missing method")
	require.Len(t, tr.sent, 1)
}

func TestServeStrictStopsOnFrameError(t *testing.T) {
	tr := &fakeTransport{in: []received{{err: relay.ErrChecksum}}}
	tr.push(jsonRequest(t, `{"uri":"/","method":"GET"}`, ""))

	calls := 0
	err := Serve(context.Background(), tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		calls++
		return resp, nil
	}), WithStrictFrames(true))
	require.NoError(t, err)
	require.Zero(t, calls)
}

func TestServeTracesCycle(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	tr := &fakeTransport{}
	tr.push(jsonRequest(t, map[string]any{
		"uri":    "/traced",
		"method": "GET",
		"headers": map[string][]string{
			"traceparent": {"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		},
	}, ""))

	err := Serve(context.Background(), tr, DispatchFunc(func(_ *Request, resp *Response) (*Response, error) {
		resp.Status = 418
		return resp, nil
	}), WithTracerProvider(tp), WithPropagator(propagation.TraceContext{}))
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "GET /traced", spans[0].Name())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	require.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}

// TestServeOverWorker runs the loop against the real frame transport.
func TestServeOverWorker(t *testing.T) {
	in := new(bytes.Buffer)
	fe := worker.New(relay.NewStreamRelay(nil, in))
	require.NoError(t, fe.Send(&worker.Payload{Context: []byte(`{"uri":"/echo","method":"POST","headers":{"X-A":["1"]}}`), Body: []byte("ping")}))
	require.NoError(t, fe.Send(&worker.Payload{Context: []byte(`{"uri":"/fail","method":"GET"}`)}))

	out := new(bytes.Buffer)
	w := worker.New(relay.NewStreamRelay(in, out))

	err := Serve(context.Background(), w, DispatchFunc(func(req *Request, resp *Response) (*Response, error) {
		if req.URL.Path == "/fail" {
			return nil, errors.New("failed on purpose")
		}
		resp.Header = req.Header.Clone()
		_, _ = resp.Write(req.Body)
		return resp, nil
	}))
	require.NoError(t, err)

	r := relay.NewStreamRelay(out, io.Discard)

	head, err := r.Receive()
	require.NoError(t, err)
	require.JSONEq(t, `{"status":200,"headers":{"X-A":["1"]}}`, string(head.Body))

	body, err := r.Receive()
	require.NoError(t, err)
	require.Equal(t, "ping", string(body.Body))

	report, err := r.Receive()
	require.NoError(t, err)
	require.True(t, report.Flags.Has(relay.PayloadError))
	require.Contains(t, string(report.Body), "failed on purpose")

	_, err = r.Receive()
	require.ErrorIs(t, err, io.EOF)
}
