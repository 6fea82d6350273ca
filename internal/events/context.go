package events

import "context"

type requestInfoKey struct{}

// RequestInfo carries the per-request audit context from the HTTP
// boundary down to wherever events are recorded.
type RequestInfo struct {
	RequestID     string
	SourceAddress string
}

// WithRequestInfo attaches the request's audit context.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom extracts the audit context, if any.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

// Stamp fills an event's request fields from the context without
// overwriting values the caller set explicitly.
func Stamp(ctx context.Context, event Event) Event {
	info, ok := RequestInfoFrom(ctx)
	if !ok {
		return event
	}
	if event.RequestID == "" {
		event.RequestID = info.RequestID
	}
	if event.SourceAddress == "" {
		event.SourceAddress = info.SourceAddress
	}
	return event
}
