package server

import (
	"github.com/google/uuid"
)

// headerCarrier lets a propagator read trace context from request headers.
type headerCarrier struct {
	h *Header
}

func (c headerCarrier) Get(key string) string { return c.h.Get(key) }
func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }
func (c headerCarrier) Keys() []string        { return c.h.Keys() }

// requestID returns the X-Request-Id sent by the front end, or a fresh one.
func requestID(req *Request) string {
	if id := req.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}
