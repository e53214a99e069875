package server

// Dispatcher maps a request to a response. It receives an empty response it
// may fill in and return, or replace. Returning a nil response with a nil
// error sends the response that was passed in.
type Dispatcher interface {
	Route(req *Request, resp *Response) (*Response, error)
}

// DispatchFunc adapts a function to a Dispatcher.
type DispatchFunc func(req *Request, resp *Response) (*Response, error)

func (f DispatchFunc) Route(req *Request, resp *Response) (*Response, error) {
	return f(req, resp)
}
