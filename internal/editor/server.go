// Package editor serves the workflow editor used by `swiss config`: a small
// JSON API over the .swiss tree, a review endpoint, Prometheus metrics and
// an embedded single-page UI.
package editor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/swiss/internal/app"
)

// maxPortAttempts bounds port discovery when the configured port is taken.
const maxPortAttempts = 20

// Server is the editor HTTP server.
type Server struct {
	rt     *app.Runtime
	logger *zap.Logger
	router *gin.Engine
}

// New creates a Server over rt.
func New(rt *app.Runtime) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{rt: rt, logger: rt.Logger.Named("editor")}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))
	SetupRoutes(router, NewHandler(rt.Store, rt, s.logger))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})))
	router.GET("/", servePage)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds host:port, trying the following ports when it is taken.
// Port 0 picks a free port.
func Listen(host string, port int) (net.Listener, error) {
	var lastErr error
	for i := 0; i < maxPortAttempts; i++ {
		candidate := port + i
		if port == 0 {
			candidate = 0
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(candidate)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if port == 0 {
			break
		}
	}
	return nil, fmt.Errorf("no free port from %d: %w", port, lastErr)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("editor listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("editor shutdown: %w", err)
	}
	return nil
}

// URL returns the browser URL for a listener address.
func URL(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok && (tcp.IP == nil || tcp.IP.IsUnspecified()) {
		return fmt.Sprintf("http://localhost:%d", tcp.Port)
	}
	return "http://" + addr.String()
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.New().String()
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Debug("request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	}
}
