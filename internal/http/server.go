// Package http is the local control api an engine host drives the wallet session through.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/internal/manager"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/log/middleware"
)

type Server struct {
	manager *manager.Manager
	metrics http.Handler
	limiter *redis_rate.Limiter

	listen         string
	ratePerMinute  int
	requestTimeout time.Duration

	srv *http.Server
}

type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRedisRateLimit counts requests per client ip in client.
// It only takes effect with a positive rate_limit_per_minute.
func WithRedisRateLimit(client *redis.Client) Option {
	return func(s *Server) {
		if client != nil {
			s.limiter = redis_rate.NewLimiter(client)
		}
	}
}

func NewServer(m *manager.Manager, opts ...Option) *Server {
	s := &Server{
		manager:        m,
		listen:         "127.0.0.1:8080",
		requestTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Apply(conf *config.Configuration) {
	s.listen = conf.HTTP.Listen
	s.ratePerMinute = conf.HTTP.RateLimitPerMinute
	if conf.WalletConnect.RequestTimeout > 0 {
		s.requestTimeout = conf.WalletConnect.RequestTimeout
	}
}

// Router builds the gin engine serving every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog())
	if s.limiter != nil && s.ratePerMinute > 0 {
		router.Use(middleware.RateLimit(s.limiter, s.ratePerMinute))
	}

	router.GET("/health", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	// Blocking calls wait for the wallet on the request goroutine, bounded a bit
	// past the client's own request timeout.
	api := router.Group("/", middleware.TimeoutHTTP(s.requestTimeout+10*time.Second))
	api.GET("/session", s.getSession)
	api.POST("/session/connect", s.connect)
	api.GET("/session/uri", s.connectionURI)
	api.POST("/session/ensure", s.ensureSession)
	api.DELETE("/session", s.deleteSession)
	api.POST("/sign/personal", s.signPersonal)
	api.POST("/sign/transaction", s.signTransaction)
	api.POST("/send/transaction", s.sendTransaction)
	api.POST("/send/contract", s.sendContract)
	return router
}

func (s *Server) Start(_ context.Context) {
	s.srv = &http.Server{Addr: s.listen, Handler: s.Router()}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(errors.WrapAndReport(err, "serve control api"))
		}
	}()
	log.Infof("control api listening on %v", s.listen)
}

func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("shutdown control api:%v", err)
	}
}
