package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wx-shi/utxo-balance/internal/coordinator"
	"github.com/wx-shi/utxo-balance/internal/model"
	"github.com/wx-shi/utxo-balance/pkg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const balanceAllow = "GET,OPTIONS"

// balanceHandle serves GET /balance/<CHAIN>=<address>. Every outcome is a 200.
func (s *Server) balanceHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		chain, address := coordinator.SplitQuery(ctx.Param("query"))
		rctx := coordinator.WithRequestID(ctx.Request.Context(), pkg.RequestID(ctx))
		ctx.JSON(http.StatusOK, s.balancer.Handle(rctx, chain, address))
	}
}

func (s *Server) balanceJSONHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.BalanceRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rctx := coordinator.WithRequestID(ctx.Request.Context(), pkg.RequestID(ctx))
		ctx.JSON(http.StatusOK, s.balancer.Handle(rctx, req.Coin, req.Address))
	}
}

func (s *Server) optionsHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		ctx.Header("Allow", balanceAllow)
		ctx.Status(http.StatusOK)
	}
}

func (s *Server) noMethodHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		path := strings.Trim(ctx.Request.URL.Path, "/")
		switch {
		case path == "balance":
			ctx.Header("Allow", http.MethodPost)
		case strings.HasPrefix(path, "balance/"):
			ctx.Header("Allow", balanceAllow)
		}
		ctx.AbortWithStatus(http.StatusMethodNotAllowed)
	}
}

// heightHandle reports store and node heights of every configured chain.
// A failing chain carries its error instead of failing the whole reply.
func (s *Server) heightHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var chains []model.Chain
		for _, chain := range model.Chains {
			if _, ok := s.stores[chain]; ok {
				chains = append(chains, chain)
			}
		}

		rctx := ctx.Request.Context()
		replies := make([]model.HeightReply, len(chains))
		var g errgroup.Group
		for i, chain := range chains {
			i, chain := i, chain
			g.Go(func() error {
				replies[i] = s.height(rctx, chain)
				return nil
			})
		}
		_ = g.Wait()

		ctx.JSON(http.StatusOK, gin.H{
			"code": http.StatusOK,
			"data": replies,
		})
	}
}

func (s *Server) height(rctx context.Context, chain model.Chain) model.HeightReply {
	reply := model.HeightReply{Chain: chain}

	sheight, err := s.stores[chain].SyncHeight(rctx)
	if err != nil {
		s.logger.Error("Height::Store", zap.String("chain", string(chain)), zap.Error(err))
		reply.Error = err.Error()
		return reply
	}
	reply.StoreHeight = sheight

	if s.nodes == nil {
		return reply
	}
	nheight, ok, err := s.nodes.NodeHeight(rctx, chain)
	if err != nil {
		s.logger.Error("Height::Node", zap.String("chain", string(chain)), zap.Error(err))
		reply.Error = err.Error()
		return reply
	}
	if ok {
		reply.NodeHeight = nheight
	}
	return reply
}
