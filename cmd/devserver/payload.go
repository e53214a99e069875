package main

import (
	"fmt"
	"io"
	"net"
	"net/http"

	"go-bridge/peer"
	"go-bridge/server"

	"github.com/google/uuid"
)

// BuildRequest turns an incoming HTTP request into a wire request for the
// worker. It returns the request id, taken from X-Request-Id when the client
// sent one.
func BuildRequest(r *http.Request) (*peer.Request, string, error) {
	headers := server.NewHeader(r.Header)

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	if host != "" {
		headers.Set("Host", host)
	}

	// add / extend X-Forwarded-For with the direct client IP
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		if existing := headers.Get("X-Forwarded-For"); existing != "" {
			headers.Set("X-Forwarded-For", existing+", "+ip)
		} else {
			headers.Set("X-Forwarded-For", ip)
		}
	}

	reqID := headers.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
		headers.Set("X-Request-Id", reqID)
	}

	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, reqID, fmt.Errorf("reading request body: %w", err)
	}

	// Preserve the full RequestURI (includes query string)
	uri := r.URL.RequestURI()
	if uri == "" {
		uri = r.URL.Path
	}

	return &peer.Request{
		URI:        uri,
		Method:     r.Method,
		Headers:    headers,
		RemoteAddr: r.RemoteAddr,
		Protocol:   r.Proto,
		Body:       body,
	}, reqID, nil
}
