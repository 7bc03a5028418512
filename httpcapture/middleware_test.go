package httpcapture_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/devlogger/devlogger"
	"github.com/auditmos/devlogger/httpcapture"
	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopChannel struct{}

func (nopChannel) Write(logging.LogLevel, string, logging.Fields) error { return nil }

func setup(t *testing.T) (*devlogger.Logger, *storage.SQLiteRecordRepo) {
	t.Helper()
	db, err := storage.OpenMemoryDB("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := storage.NewSQLiteRecordRepo(db, "")
	l, err := devlogger.New(devlogger.Options{
		Store:    repo,
		Channels: map[string]devlogger.Channel{"stderr": nopChannel{}},
	})
	require.NoError(t, err)
	return l, repo
}

func records(t *testing.T, repo *storage.SQLiteRecordRepo) []*storage.LogRecord {
	t.Helper()
	recs, err := repo.List(context.Background(), storage.ListFilter{})
	require.NoError(t, err)
	return recs
}

type quietError struct{}

func (quietError) Error() string    { return "validation failed" }
func (quietError) DontReport() bool { return true }

func TestRecovery_LogsAndRepanics(t *testing.T) {
	l, repo := setup(t)

	var outer interface{}
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		outer = recovered
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	r.Use(httpcapture.RequestContext(), httpcapture.Recovery(l, httpcapture.Config{AutoCatch: true}))
	r.POST("/orders", func(c *gin.Context) {
		panic("out of stock")
	})

	form := url.Values{"sku": {"A1"}, "password": {"hunter2"}, "_token": {"csrf"}}
	req := httptest.NewRequest(http.MethodPost, "/orders?page=2", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(httpcapture.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "out of stock", outer, "outer recovery sees the original value")

	recs := records(t, repo)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "error", rec.Level)
	assert.Equal(t, "panic: out of stock", rec.Message)
	require.NotNil(t, rec.ExceptionClass)
	assert.Equal(t, "*github.com/auditmos/devlogger/httpcapture.PanicError", *rec.ExceptionClass)
	require.NotNil(t, rec.FilePath)
	assert.True(t, strings.HasSuffix(*rec.FilePath, "middleware_test.go"))

	assert.Equal(t, "http://example.com/orders?page=2", rec.Context["url"])
	assert.Equal(t, "POST", rec.Context["method"])
	assert.Equal(t, "req-123", rec.Context["request_id"])
	input, ok := rec.Context["input"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "A1", input["sku"])
	assert.Equal(t, "2", input["page"])
	assert.Equal(t, "[REDACTED]", input["password"])
	assert.Equal(t, "[REDACTED]", input["_token"])

	require.NotNil(t, rec.RequestMethod)
	assert.Equal(t, "POST", *rec.RequestMethod)
	require.NotNil(t, rec.RequestURL)
	assert.Equal(t, "http://example.com/orders?page=2", *rec.RequestURL)
}

func TestRecovery_ErrorValueKeepsClass(t *testing.T) {
	l, repo := setup(t)

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, _ interface{}) {
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	r.Use(httpcapture.Recovery(l, httpcapture.Config{AutoCatch: true}))
	r.GET("/", func(c *gin.Context) {
		panic(&url.Error{Op: "Get", URL: "http://upstream", Err: errors.New("refused")})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	recs := records(t, repo)
	require.Len(t, recs, 1)
	assert.Equal(t, "*errors.errorString", *recs[0].ExceptionClass)
	assert.Contains(t, recs[0].Message, "refused")
}

func TestRecovery_DontReport(t *testing.T) {
	l, repo := setup(t)

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, _ interface{}) {
		c.AbortWithStatus(http.StatusUnprocessableEntity)
	}))
	r.Use(httpcapture.Recovery(l, httpcapture.Config{AutoCatch: true}))
	r.GET("/", func(c *gin.Context) { panic(quietError{}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, records(t, repo))
}

func TestRecovery_Disabled(t *testing.T) {
	l, repo := setup(t)

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, _ interface{}) {
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	r.Use(httpcapture.Recovery(l, httpcapture.Config{AutoCatch: false}))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, records(t, repo))
}

func TestErrors_LogsAttachedErrors(t *testing.T) {
	l, repo := setup(t)

	r := gin.New()
	r.Use(httpcapture.RequestContext(), httpcapture.Errors(l, httpcapture.Config{AutoCatch: true}))

	var after int
	r.GET("/sync", func(c *gin.Context) {
		httpcapture.SetUserID(c, 42)
		_ = c.Error(errors.New("upstream timeout")).SetMeta("job=7")
		_ = c.Error(quietError{})
		after = len(c.Errors)
		c.Status(http.StatusBadGateway)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync", nil))
	assert.Equal(t, 2, after)
	assert.NotEmpty(t, w.Header().Get(httpcapture.RequestIDHeader), "request id generated")

	recs := records(t, repo)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "upstream timeout", rec.Message)
	assert.Equal(t, "job=7", rec.Context["meta"])
	assert.Equal(t, float64(http.StatusBadGateway), rec.Context["status"])
	assert.Equal(t, w.Header().Get(httpcapture.RequestIDHeader), rec.Context["request_id"])
	require.NotNil(t, rec.UserID)
	assert.Equal(t, int64(42), *rec.UserID)
}

func TestErrors_Disabled(t *testing.T) {
	l, repo := setup(t)

	r := gin.New()
	r.Use(httpcapture.Errors(l, httpcapture.Config{}))
	r.GET("/", func(c *gin.Context) {
		_ = c.Error(errors.New("ignored"))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, records(t, repo))
}

func TestRequestContext_CarriesRequest(t *testing.T) {
	r := gin.New()
	r.Use(httpcapture.RequestContext())

	var info devlogger.RequestInfo
	r.GET("/ping", func(c *gin.Context) {
		info, _ = devlogger.RequestFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping?x=1", nil)
	req.Header.Set("User-Agent", "curl/8.4.0")
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://example.com/ping?x=1", info.URL)
	assert.Equal(t, http.MethodGet, info.Method)
	assert.Equal(t, "curl/8.4.0", info.UserAgent)
	assert.Equal(t, "192.0.2.1", info.IP)
	assert.Len(t, info.RequestID, 26)
	assert.Equal(t, info.RequestID, w.Header().Get(httpcapture.RequestIDHeader))
}
