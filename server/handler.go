package server

import (
	"net/http"
	"sort"
)

// HandlerDispatcher serves requests with a net/http handler. Panics in h are
// left to the serve loop, which reports them like any other failure.
func HandlerDispatcher(h http.Handler) Dispatcher {
	return DispatchFunc(func(req *Request, resp *Response) (*Response, error) {
		hr, err := req.HTTPRequest()
		if err != nil {
			return nil, err
		}

		rw := &responseWriter{resp: resp, header: make(http.Header)}
		h.ServeHTTP(rw, hr)
		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
		return resp, nil
	})
}

// responseWriter collects a handler's output into a Response.
type responseWriter struct {
	resp        *Response
	header      http.Header
	wroteHeader bool
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.resp.Status = code

	keys := make([]string, 0, len(w.header))
	for k := range w.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.resp.Header.Set(k, w.header[k]...)
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.resp.Write(p)
}
