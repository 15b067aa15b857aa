package web

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "dialajoke/internal/runtime/supervisor"
	"dialajoke/internal/telephony"
	logx "dialajoke/pkg/logx"

	"github.com/rs/cors"
	"github.com/spf13/afero"
)

// Service owns the HTTP listener. The server runs under a supervisor
// restart loop; Stop shuts it down gracefully.
type Service struct {
	cfg        Config
	deps       Deps
	log        logx.Logger
	tmpl       *template.Template
	webhookKey ed25519.PublicKey
	handler    http.Handler
	started    time.Time
	now        func() time.Time

	mu       sync.Mutex
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
	bound    chan struct{}
}

// New loads templates from fs (the OS filesystem when nil) and builds the
// router.
func New(cfg Config, deps Deps, fs afero.Fs, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Scheduler == nil || deps.Calls == nil {
		return nil, errors.New("web: scheduler and call handler are required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfg = cfg.withDefaults()

	tmpl, err := loadTemplates(fs, cfg.TemplatesDir)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		tmpl:    tmpl,
		started: time.Now(),
		now:     time.Now,
		bound:   make(chan struct{}),
	}
	if k := strings.TrimSpace(cfg.WebhookPublicKey); k != "" {
		pub, err := telephony.ParsePublicKey(k)
		if err != nil {
			return nil, err
		}
		s.webhookKey = pub
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full router. Tests drive it directly.
func (s *Service) Handler() http.Handler { return s.handler }

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	public := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	pub := func(h http.HandlerFunc) http.Handler { return public.Handler(h) }

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.Handle("/{$}", pub(s.handleRoot))
	mux.Handle("/webhook", pub(s.handleWebhookRoute))

	if d := s.cfg.Debug; d.Enabled {
		if strings.TrimSpace(d.Token) == "" && !isLoopbackAddr(s.cfg.Addr) {
			s.log.Error("debug endpoints refused: non-loopback addr requires a token", logx.String("addr", s.cfg.Addr))
		} else {
			prefix := mountDebug(mux, d.Prefix, d.Token)
			s.log.Info("debug endpoints mounted", logx.String("prefix", prefix), logx.Bool("token_set", d.Token != ""))
		}
	}
	return s.accessLog(mux)
}

// handleRoot and handleWebhookRoute dispatch by method themselves so CORS
// preflight requests reach the cors handler.
func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleIndex(w, r)
	case http.MethodPost:
		s.handleSchedule(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleWebhookRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleWebhook(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Service) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.log.Enabled(logx.LevelDebug) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
			logx.String("remote", r.RemoteAddr),
		)
	})
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

// Addr waits until the listener is bound and returns its address.
func (s *Service) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.bound:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return "", errors.New("web: not listening")
	}
	return s.ln.Addr().String(), nil
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("http stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	select {
	case <-s.bound:
	default:
		close(s.bound)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	addr := ln.Addr().String()
	s.log.Info("http started", logx.String("addr", addr), logx.String("hint", fmt.Sprintf("http://%s/", addr)))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}
