// Package dashboard serves the operator API and a small HTML view over
// persisted log records.
package dashboard

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/auditmos/devlogger/devlogger"
	"github.com/auditmos/devlogger/httpcapture"
	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

const ActorHeader = "X-Actor-ID"

type Server struct {
	addr         string
	repo         storage.RecordRepo
	logger       logging.Logger
	allowOrigins []string
	recorder     *devlogger.Logger
	capture      httpcapture.Config
	templates    *template.Template
	now          func() time.Time

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	onReady    func()
}

type ServerConfig struct {
	Addr   string
	Repo   storage.RecordRepo
	Logger logging.Logger
	// AllowOrigins lists CORS origins. Empty allows any origin.
	AllowOrigins []string
	// Recorder, when set, records the dashboard's own panics and store
	// failures as log records, subject to Capture.AutoCatch.
	Recorder *devlogger.Logger
	Capture  httpcapture.Config
}

func NewServer(cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}

	s := &Server{
		addr:         cfg.Addr,
		repo:         cfg.Repo,
		logger:       logger,
		allowOrigins: cfg.AllowOrigins,
		recorder:     cfg.Recorder,
		capture:      cfg.Capture,
		now:          time.Now,
	}

	tmpl, err := s.loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	s.templates = tmpl
	return s, nil
}

func (s *Server) loadTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"lower":      strings.ToLower,
		"timeAgo":    s.timeAgo,
		"levelClass": levelClass,
		"deref":      deref,
	}

	tmpl := template.New("").Funcs(funcMap)

	entries, err := fs.ReadDir(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		content, readErr := fs.ReadFile(embeddedTemplates, "templates/"+entry.Name())
		if readErr != nil {
			return nil, readErr
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		if _, parseErr := tmpl.New(name).Parse(string(content)); parseErr != nil {
			return nil, parseErr
		}
	}
	return tmpl, nil
}

// SetReadyCallback registers fn to run once the listener is open.
func (s *Server) SetReadyCallback(fn func()) {
	s.mu.Lock()
	s.onReady = fn
	s.mu.Unlock()
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(s.traceRequests(), gin.CustomRecovery(s.recovered))
	if s.recorder != nil {
		r.Use(
			httpcapture.RequestContext(),
			httpcapture.Errors(s.recorder, s.capture),
			httpcapture.Recovery(s.recorder, s.capture),
		)
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", ActorHeader, httpcapture.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", httpcapture.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.allowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowOrigins
	}
	r.Use(cors.New(corsCfg))

	r.SetHTMLTemplate(s.templates)
	r.GET("/", s.handleIndex)
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api/logs")
	{
		api.GET("", s.handleList)
		api.GET("/:id", s.handleGet)
		api.POST("/:id/close", s.handleClose)
		api.POST("/:id/open", s.handleOpen)
		api.POST("/:id/tags", s.handleAddTags)
		api.DELETE("/:id/tags", s.handleRemoveTags)
		api.DELETE("/:id", s.handleDelete)
		api.POST("/:id/restore", s.handleRestore)
	}
	return r
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dashboard listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	onReady := s.onReady
	s.mu.Unlock()

	s.logger.WithFields(logging.Fields{"addr": ln.Addr().String()}).
		Info("dashboard", "start", "Dashboard started")

	if onReady != nil {
		onReady()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("dashboard", "stop", "Dashboard stopping")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("dashboard serve: %w", err)
	}
}

// Addr is the bound address once Start has opened the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

const traceKey = "trace_id"

func (s *Server) traceRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := ulid.Make().String()
		c.Set(traceKey, traceID)
		start := time.Now()

		c.Next()

		s.logger.WithTraceID(traceID).WithFields(logging.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("dashboard", "api", "Request received")
	}
}

func (s *Server) log(c *gin.Context) logging.Logger {
	return s.logger.WithTraceID(c.GetString(traceKey))
}

func (s *Server) recovered(c *gin.Context, v interface{}) {
	s.log(c).WithFields(logging.Fields{"panic": fmt.Sprint(v), "path": c.Request.URL.Path}).
		Error("dashboard", "api", "Handler panicked")
	writeError(c, http.StatusInternalServerError, CodeInternal, "Internal error", nil)
	c.Abort()
}

func (s *Server) timeAgo(t time.Time) string {
	d := s.now().Sub(t)

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("Jan 2, 15:04")
	}
}

func levelClass(level string) string {
	l, ok := logging.LookupLevel(level)
	switch {
	case !ok:
		return ""
	case l >= logging.ERROR:
		return "level-error"
	case l == logging.WARN:
		return "level-warn"
	case l >= logging.INFO:
		return "level-info"
	default:
		return "level-debug"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
