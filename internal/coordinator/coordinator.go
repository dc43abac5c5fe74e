package coordinator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/metrics"
	"github.com/wx-shi/utxo-balance/internal/model"
	"go.uber.org/zap"
)

// MaxRequestLen bounds the length of a "chain=address" request.
const MaxRequestLen = 100

var addressPattern = regexp.MustCompile(`^[-:=0-9A-Za-z]+$`)

// Validator confirms addresses; see validator.Validator.
type Validator interface {
	Validate(ctx context.Context, chain model.Chain, address string) bool
}

// Resolver computes balances; see balance.Engine.
type Resolver interface {
	Resolve(ctx context.Context, chain model.Chain, address string) (decimal.Decimal, int64, error)
}

// Coordinator turns a raw request into exactly one BalanceResult.
type Coordinator struct {
	validator Validator
	resolver  Resolver
	timeouts  config.TimeoutConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func New(validator Validator, resolver Resolver, timeouts config.TimeoutConfig, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		validator: validator,
		resolver:  resolver,
		timeouts:  timeouts,
		metrics:   m,
		logger:    logger,
	}
}

// SplitQuery splits a "chain=address" token at its first '='.
func SplitQuery(raw string) (chain, address string) {
	chain, address, _ = strings.Cut(raw, "=")
	return chain, address
}

// Sanitize reports whether the request passes the structural checks done
// before any oracle is asked.
func Sanitize(rawChain, rawAddress string) bool {
	if len(rawChain)+1+len(rawAddress) > MaxRequestLen {
		return false
	}
	return addressPattern.MatchString(rawAddress)
}

// Handle answers one request. Outcomes are checked in order: unknown coin,
// invalid address, ledger failure, success. Nothing fails past this point.
func (c *Coordinator) Handle(ctx context.Context, rawChain, rawAddress string) model.BalanceResult {
	start := time.Now()
	result := c.handle(ctx, rawChain, rawAddress)
	elapsed := time.Since(start)

	c.metrics.Observe(result, elapsed)
	c.logger.Info("Balance::Request",
		zap.String("request_id", RequestIDFrom(ctx)),
		zap.String("chain", rawChain),
		zap.String("address", rawAddress),
		zap.Duration("elapsed", elapsed),
		zap.Any("result", result))
	return result
}

func (c *Coordinator) handle(ctx context.Context, rawChain, rawAddress string) model.BalanceResult {
	chain, ok := model.ParseChain(rawChain)
	if !ok {
		return model.BalanceResult{
			Balance:   decimal.Zero,
			Currency:  model.NotAValidCoin,
			ErrorType: model.ErrNotAValidCoin,
		}
	}
	result := model.BalanceResult{
		Balance:  decimal.Zero,
		Currency: string(chain),
	}

	if !Sanitize(rawChain, rawAddress) || !c.validate(ctx, chain, rawAddress) {
		result.ErrorType = model.ErrInvalidAddress
		return result
	}

	rctx, cancel := withTimeout(ctx, c.timeouts.Resolve)
	defer cancel()
	balance, height, err := c.resolver.Resolve(rctx, chain, rawAddress)
	if err != nil {
		c.logger.Error("Balance::Resolve",
			zap.String("chain", rawChain),
			zap.String("address", rawAddress),
			zap.Error(err))
		result.ErrorType = model.ErrServerDown
		return result
	}

	result.Balance = balance
	result.BlockHeight = height
	result.ErrorType = model.ErrNone
	return result
}

func (c *Coordinator) validate(ctx context.Context, chain model.Chain, address string) bool {
	vctx, cancel := withTimeout(ctx, c.timeouts.Validate)
	defer cancel()
	return c.validator.Validate(vctx, chain, address)
}

// withTimeout bounds ctx by d; d <= 0 leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

type requestIDKey struct{}

// WithRequestID tags ctx so the request log line can be correlated with
// the transport's access log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
