package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/db"
	"github.com/wx-shi/utxo-balance/internal/model"
	"github.com/wx-shi/utxo-balance/pkg"
	"go.uber.org/zap"
)

const (
	// readTimeout is the maximum duration for reading the entire
	// request, including the body.
	readTimeout = 5 * time.Minute

	// writeTimeout is the maximum duration before timing out
	// writes of the response. It is reset whenever a new
	// request's header is read.
	writeTimeout = 5 * time.Minute

	// idleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	idleTimeout = 5 * time.Minute
)

// Balancer answers balance requests; see coordinator.Coordinator.
type Balancer interface {
	Handle(ctx context.Context, rawChain, rawAddress string) model.BalanceResult
}

// NodeHeights reports the block count of a chain's node; see validator.Validator.
type NodeHeights interface {
	NodeHeight(ctx context.Context, chain model.Chain) (int64, bool, error)
}

type Server struct {
	conf     *config.ServerConfig
	logger   *zap.Logger
	balancer Balancer
	stores   db.Stores
	nodes    NodeHeights
	gatherer prometheus.Gatherer
	engine   *gin.Engine
	hs       *http.Server
}

func NewServer(conf *config.ServerConfig, logger *zap.Logger, balancer Balancer, stores db.Stores, nodes NodeHeights, gatherer prometheus.Gatherer) *Server {

	s := &Server{
		conf:     conf,
		logger:   logger,
		balancer: balancer,
		stores:   stores,
		nodes:    nodes,
		gatherer: gatherer,
	}

	s.initGin()
	return s
}

// Handler exposes the routed engine, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) initGin() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(pkg.LogMiddleware(s.logger), pkg.CORSMiddleware(), gin.Recovery())

	engine.GET("balance/:query", s.balanceHandle())
	engine.OPTIONS("balance/:query", s.optionsHandle())
	engine.POST("balance", s.balanceJSONHandle())
	engine.GET("height", s.heightHandle())
	if s.gatherer != nil {
		engine.GET("metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	engine.NoMethod(s.noMethodHandle())
	s.engine = engine
}

func (s *Server) Run() {
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)
	hs := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.hs = hs

	go func() {
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("listen", zap.Error(err))
		}
	}()
	s.logger.Info("listen", zap.String("addr", addr))

}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Shutdown(ctx)
}
