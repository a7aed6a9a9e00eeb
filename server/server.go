package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/luca-patrignani/edu-ledger/ledger"
)

const (
	defaultMaxUploadSize   = 10 << 20
	defaultShutdownTimeout = 5 * time.Second
)

// Server exposes a Blockchain over HTTP. It holds no ledger state of its
// own; every request goes through the chain it was given.
type Server struct {
	chain           *ledger.Blockchain
	logger          *slog.Logger
	router          chi.Router
	tlsConfig       *tls.Config
	maxUploadSize   int64
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCertificate makes Serve accept TLS connections only.
func WithCertificate(cert tls.Certificate) Option {
	return func(s *Server) {
		if s.tlsConfig == nil {
			s.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
	}
}

// WithMaxUploadSize limits the size of request bodies carrying certificates.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		s.maxUploadSize = n
	}
}

// WithShutdownTimeout bounds how long Serve waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

func New(chain *ledger.Blockchain, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		chain:           chain,
		logger:          logger,
		maxUploadSize:   defaultMaxUploadSize,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/chain", s.handleChain)
	r.Get("/validate", s.handleValidate)
	r.Route("/records", func(r chi.Router) {
		r.Post("/", s.handleAddRecord)
		r.Post("/verify", s.handleVerifyRecord)
	})
	r.Route("/certificates", func(r chi.Router) {
		r.Post("/", s.handleAddCertificate)
		r.Post("/verify", s.handleVerifyCertificate)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	if s.tlsConfig != nil {
		l = tls.NewListener(l, s.tlsConfig)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(l)
	}()
	s.logger.Info("ledger server listening", "address", l.Addr().String(), "tls", s.tlsConfig != nil)

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("ledger server stopped")
	return nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
