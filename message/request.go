package message

// Request is implemented by message types that expect a typed response.
//
// A request type names its response type R and knows how to box a response
// value into its wrapper message, the message type that carries the response
// back through erased channels. The wrapper must be registered like any other
// message type. Wrapping and unwrapping are inverse: for any response r,
// req.WrapResponse(r).Unwrap() yields r again.
//
//	type GetUser struct{ ID string }
//
//	func (GetUser) MessageName() string     { return "GetUser" }
//	func (GetUser) MessageProtocol() string { return "users" }
//	func (GetUser) WrapResponse(u User) Wrapper[User] {
//		return GetUserReply{User: u}
//	}
type Request[R any] interface {
	Message

	// WrapResponse boxes a response value into the request's wrapper message.
	WrapResponse(R) Wrapper[R]
}

// Wrapper is a message carrying a response value of type R. Responder sides
// build wrappers through [Request.WrapResponse]; requester sides take the
// response out with Unwrap, usually via [UnwrapResponse].
type Wrapper[R any] interface {
	Message

	// Unwrap returns the carried response value.
	Unwrap() R
}

// Reply wraps a response to req and erases it, ready to travel back through
// the same channels the request arrived on. It panics if the wrapper type was
// never registered, like [New].
func Reply[R any](req Request[R], resp R) *AnyMessage {
	return New(req.WrapResponse(resp))
}

// UnwrapResponse takes a wrapper of type W out of the envelope and returns
// the response it carries. The envelope is consumed on success and left
// intact on mismatch, exactly like [Downcast].
//
// Both type arguments are explicit at call sites:
//
//	user, err := message.UnwrapResponse[GetUserReply, User](env)
func UnwrapResponse[W Wrapper[R], R any](env *AnyMessage) (R, error) {
	var zero R
	w, err := Downcast[W](env)
	if err != nil {
		return zero, err
	}
	return w.Unwrap(), nil
}
