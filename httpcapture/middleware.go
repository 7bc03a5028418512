// Package httpcapture attaches request details to log calls made while
// serving a gin request, and records panics and handler errors.
package httpcapture

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/auditmos/devlogger/config"
	"github.com/auditmos/devlogger/devlogger"
	"github.com/auditmos/devlogger/logging"
)

const RequestIDHeader = "X-Request-Id"

const requestIDKey = "devlogger.request_id"

type Config struct {
	// AutoCatch enables Recovery and Errors. When false both pass through.
	AutoCatch bool
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{AutoCatch: cfg.AutoCatch}
}

// PanicError wraps a recovered panic value that is not an error.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// RequestContext stores the request's URL, method, client and request ID on
// the request context so every log call made by the handler carries them.
// An incoming X-Request-Id is reused; otherwise a new ID is generated.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		ctx := c.Request.Context()
		info := devlogger.RequestInfo{
			URL:       fullURL(c.Request),
			Method:    c.Request.Method,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: id,
		}
		if prev, ok := devlogger.RequestFromContext(ctx); ok {
			info.UserID = prev.UserID
		}
		c.Request = c.Request.WithContext(devlogger.WithRequest(ctx, info))
		c.Next()
	}
}

// RequestID returns the ID assigned by RequestContext.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// SetUserID records the authenticated user for the rest of the request.
func SetUserID(c *gin.Context, id int64) {
	c.Request = c.Request.WithContext(devlogger.WithUserID(c.Request.Context(), id))
}

// Recovery logs a panic raised further down the chain and panics again with
// the same value, so an outer recovery handler still sees it.
func Recovery(logger *devlogger.Logger, cfg Config) gin.HandlerFunc {
	if !cfg.AutoCatch {
		return passThrough
	}
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r != http.ErrAbortHandler {
				err, ok := r.(error)
				if !ok {
					err = &PanicError{Value: r}
				}
				if reportable(err) {
					logger.LogException(c.Request.Context(), err, requestFields(c))
				}
			}
			panic(r)
		}()
		c.Next()
	}
}

// Errors logs each error handlers attached with c.Error once the chain
// returns. c.Errors is left as is.
func Errors(logger *devlogger.Logger, cfg Config) gin.HandlerFunc {
	if !cfg.AutoCatch {
		return passThrough
	}
	return func(c *gin.Context) {
		c.Next()

		for _, e := range c.Errors {
			if e.Err == nil || !reportable(e.Err) {
				continue
			}
			fields := requestFields(c)
			fields["status"] = c.Writer.Status()
			if e.Meta != nil {
				fields["meta"] = e.Meta
			}
			logger.LogException(c.Request.Context(), e.Err, fields)
		}
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

func reportable(err error) bool {
	var dr interface{ DontReport() bool }
	if errors.As(err, &dr) {
		return !dr.DontReport()
	}
	return true
}

func requestFields(c *gin.Context) logging.Fields {
	return logging.Fields{
		"url":        fullURL(c.Request),
		"method":     c.Request.Method,
		"input":      requestInput(c.Request),
		"request_id": RequestID(c),
	}
}

// requestInput merges query and form values with sensitive keys redacted.
func requestInput(r *http.Request) logging.Fields {
	if r.Form == nil {
		_ = r.ParseForm()
	}

	values := r.Form
	if values == nil {
		values = r.URL.Query()
	}

	input := make(logging.Fields, len(values))
	for k, v := range values {
		if len(v) == 1 {
			input[k] = v[0]
		} else {
			input[k] = v
		}
	}
	return input.Sanitize()
}

func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
