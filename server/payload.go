package server

// RequestContext is the context frame of a request message. The body travels
// in the frame that follows it.
type RequestContext struct {
	URI        string            `json:"uri" cbor:"uri"`
	Method     string            `json:"method" cbor:"method"`
	Headers    Header            `json:"headers" cbor:"headers"`
	Query      map[string]string `json:"query,omitempty" cbor:"query,omitempty"`
	RawQuery   string            `json:"rawQuery,omitempty" cbor:"rawQuery,omitempty"`
	RemoteAddr string            `json:"remoteAddr,omitempty" cbor:"remoteAddr,omitempty"`
	Protocol   string            `json:"protocol,omitempty" cbor:"protocol,omitempty"`
}

// ResponseContext is the context frame of a response message.
type ResponseContext struct {
	Status  int    `json:"status" cbor:"status"`
	Headers Header `json:"headers" cbor:"headers"`
}
