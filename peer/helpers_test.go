package peer

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"go-bridge/relay"
	"go-bridge/server"
	"go-bridge/worker"
)

const helperEnv = "GO_BRIDGE_HELPER_WORKER"

// testDispatcher backs both the in-process harness and the helper process.
var testDispatcher = server.DispatchFunc(func(req *server.Request, resp *server.Response) (*server.Response, error) {
	switch req.URL.Path {
	case "/echo":
		resp.Header = req.Header.Clone()
		_, _ = resp.Write(req.Body)
	case "/query":
		_, _ = resp.WriteString(req.URL.RawQuery)
	case "/fail":
		return nil, errors.New("failed on purpose")
	case "/pid":
		_, _ = resp.WriteString(strconv.Itoa(os.Getpid()))
	case "/exit":
		os.Exit(3)
	case "/sleep":
		time.Sleep(5 * time.Second)
	default:
		resp.Status = 404
	}
	return resp, nil
})

// TestHelperWorker is not a real test: it is the worker process started by
// the Process tests.
func TestHelperWorker(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	w := worker.New(relay.NewStreamRelay(os.Stdin, os.Stdout))
	if err := server.Serve(context.Background(), w, testDispatcher); err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

func startHelper(t *testing.T, opts ...Option) *Process {
	t.Helper()
	opts = append([]Option{WithEnv(helperEnv + "=1")}, opts...)
	p, err := Start(os.Args[0], []string{"-test.run=^TestHelperWorker$"}, opts...)
	if err != nil {
		t.Fatalf("starting helper worker: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

type harness struct {
	client *Client
	done   chan struct{}
	err    error
}

// newHarness runs a serve loop in a goroutine, connected to a Client with
// in-memory pipes.
func newHarness(t *testing.T, d server.Dispatcher, opts ...ClientOption) *harness {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	h := &harness{
		client: NewClient(relay.NewStreamRelay(respR, reqW), opts...),
		done:   make(chan struct{}),
	}

	w := worker.New(relay.NewStreamRelay(reqR, respW))
	go func() {
		defer close(h.done)
		h.err = server.Serve(context.Background(), w, d)
		_ = respW.Close()
	}()

	t.Cleanup(func() {
		_ = reqW.Close()
		<-h.done
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(5 * time.Second):
		t.Fatalf("serve loop did not stop")
		return nil
	}
}
