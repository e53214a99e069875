package server

import (
	"encoding/json"
	"io"
	"testing"

	"go-bridge/worker"

	"github.com/stretchr/testify/require"
)

type received struct {
	payload *worker.Payload
	err     error
}

// fakeTransport replays queued messages and records everything written back.
// Once the queue is empty Receive returns io.EOF.
type fakeTransport struct {
	in []received

	sent   []*worker.Payload
	errors []string

	sendErr  error
	errorErr error
}

func (f *fakeTransport) Receive() (*worker.Payload, error) {
	if len(f.in) == 0 {
		return nil, io.EOF
	}
	next := f.in[0]
	f.in = f.in[1:]
	return next.payload, next.err
}

func (f *fakeTransport) Send(p *worker.Payload) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeTransport) Error(message string) error {
	if f.errorErr != nil {
		return f.errorErr
	}
	f.errors = append(f.errors, message)
	return nil
}

func (f *fakeTransport) push(p *worker.Payload) {
	f.in = append(f.in, received{payload: p})
}

// jsonRequest builds a request message from a context literal.
func jsonRequest(t *testing.T, ctx any, body string) *worker.Payload {
	t.Helper()
	raw, ok := ctx.(string)
	if !ok {
		b, err := json.Marshal(ctx)
		require.NoError(t, err)
		raw = string(b)
	}
	return &worker.Payload{Context: []byte(raw), Body: []byte(body)}
}

// sentResponse decodes a response message written by the adapter.
func sentResponse(t *testing.T, p *worker.Payload) (ResponseContext, string) {
	t.Helper()
	var rc ResponseContext
	require.NoError(t, codecFor(p.Flags).Unmarshal(p.Context, &rc))
	return rc, string(p.Body)
}
