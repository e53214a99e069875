package server

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Request is a decoded request. It belongs to a single serve cycle and must
// not be retained after the dispatcher returns.
type Request struct {
	URL        *url.URL
	Method     string
	Header     Header
	Body       []byte
	RemoteAddr string
	Protocol   string

	ctx context.Context
}

// newRequest builds a Request from a decoded context frame and its body.
func newRequest(rc *RequestContext, body []byte) (*Request, error) {
	u, err := url.Parse(rc.URI)
	if err != nil {
		return nil, err
	}
	mergeQuery(u, rc.RawQuery, rc.Query)

	if body == nil {
		body = []byte{}
	}

	return &Request{
		URL:        u,
		Method:     rc.Method,
		Header:     rc.Headers,
		Body:       body,
		RemoteAddr: rc.RemoteAddr,
		Protocol:   rc.Protocol,
	}, nil
}

// mergeQuery folds out-of-band query parameters into u. rawQuery only applies
// when the URI has no query of its own. Pairs already in the URI are kept as
// sent, undecodable ones included; entries of query replace pairs with the
// same key and are appended in key order.
func mergeQuery(u *url.URL, rawQuery string, query map[string]string) {
	if u.RawQuery == "" && rawQuery != "" {
		u.RawQuery = rawQuery
	}
	if len(query) == 0 {
		return
	}

	var pairs []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			if _, replaced := query[k]; replaced {
				continue
			}
		}
		pairs = append(pairs, pair)
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(query[k]))
	}
	u.RawQuery = strings.Join(pairs, "&")
}

// Context returns the cycle context. It carries the extracted trace context
// when tracing is enabled.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of r bound to ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}

// Query returns the parsed query parameters.
func (r *Request) Query() url.Values {
	return r.URL.Query()
}

// HTTPRequest converts r into a server-side *http.Request.
func (r *Request) HTTPRequest() (*http.Request, error) {
	hr, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}

	hr.Header = r.Header.HTTP()
	hr.RemoteAddr = r.RemoteAddr
	hr.RequestURI = r.URL.RequestURI()
	if host := r.Header.Get("Host"); host != "" {
		hr.Host = host
	}
	if r.Protocol != "" {
		if major, minor, ok := http.ParseHTTPVersion(r.Protocol); ok {
			hr.Proto, hr.ProtoMajor, hr.ProtoMinor = r.Protocol, major, minor
		}
	}
	return hr, nil
}
