package validator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/model"
	"go.uber.org/zap"
)

// Validator dispatches address checks to the oracle of each chain. A chain
// without an oracle is never valid.
type Validator struct {
	oracles map[model.Chain]Oracle
	clients []*rpcclient.Client
	logger  *zap.Logger
}

func New(oracles map[model.Chain]Oracle, logger *zap.Logger) *Validator {
	return &Validator{
		oracles: oracles,
		logger:  logger,
	}
}

// FromConfig builds one oracle per configured chain.
func FromConfig(chains map[model.Chain]*config.ChainConfig, logger *zap.Logger) (*Validator, error) {
	v := New(make(map[model.Chain]Oracle, len(chains)), logger)
	for chain, cc := range chains {
		switch cc.Oracle.Kind {
		case config.OracleRPC:
			client, err := DialRPC(cc.Oracle)
			if err != nil {
				v.Shutdown()
				return nil, fmt.Errorf("%s oracle: %w", chain, err)
			}
			v.clients = append(v.clients, client)
			v.oracles[chain] = NewRPCOracle(client)
		case config.OracleDecode:
			v.oracles[chain] = DecodeOracle{}
		default:
			v.Shutdown()
			return nil, fmt.Errorf("%s oracle: unknown kind %q", chain, cc.Oracle.Kind)
		}
	}
	return v, nil
}

// Validate reports whether address is confirmed valid on chain. Any oracle
// failure, including ctx expiry, counts as invalid.
func (v *Validator) Validate(ctx context.Context, chain model.Chain, address string) bool {
	oracle, ok := v.oracles[chain]
	if !ok {
		v.logger.Warn("Validate::NoOracle", zap.String("chain", string(chain)))
		return false
	}
	valid, err := oracle.ValidateAddress(ctx, address)
	if err != nil {
		v.logger.Warn("Validate::Oracle",
			zap.String("chain", string(chain)),
			zap.String("address", address),
			zap.Error(err))
		return false
	}
	return valid
}

// NodeHeight returns the block count of chain's node. ok is false when the
// chain's oracle is not backed by a node.
func (v *Validator) NodeHeight(ctx context.Context, chain model.Chain) (height int64, ok bool, err error) {
	bc, ok := v.oracles[chain].(BlockCounter)
	if !ok {
		return 0, false, nil
	}
	height, err = bc.BlockCount(ctx)
	return height, true, err
}

func (v *Validator) Shutdown() {
	for _, c := range v.clients {
		c.Shutdown()
		c.WaitForShutdown()
	}
	v.clients = nil
}
