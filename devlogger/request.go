package devlogger

import "context"

// RequestInfo describes the HTTP request a log call happens in. It is
// copied onto every record logged with a context carrying it.
type RequestInfo struct {
	URL       string
	Method    string
	IP        string
	UserAgent string
	RequestID string
	UserID    *int64
}

type requestKey struct{}

func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestKey{}, info)
}

func RequestFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestKey{}).(RequestInfo)
	return info, ok
}

// WithUserID attaches the authenticated user to the request in ctx, or starts
// a request record holding only the user.
func WithUserID(ctx context.Context, id int64) context.Context {
	info, _ := RequestFromContext(ctx)
	info.UserID = &id
	return WithRequest(ctx, info)
}
