package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/pkg"
)

// Oracle confirms whether an address is valid on one chain.
type Oracle interface {
	ValidateAddress(ctx context.Context, address string) (bool, error)
}

// BlockCounter is implemented by oracles backed by a full node.
type BlockCounter interface {
	BlockCount(ctx context.Context) (int64, error)
}

// RPCClient is the subset of *rpcclient.Client used by RPCOracle.
type RPCClient interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	GetBlockCount() (int64, error)
}

// DialRPC creates a JSON-RPC client for a bitcoind compatible node.
func DialRPC(conf *config.OracleConfig) (*rpcclient.Client, error) {
	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         conf.URL,
		User:         conf.User,
		Pass:         conf.Password,
		CookiePath:   conf.CookiePath,
		HTTPPostMode: true, // Bitcoin core only supports HTTP POST mode
		DisableTLS:   true, // Bitcoin core does not provide TLS by default
	}, nil)
}

// MaxInFlight bounds the node calls one RPCOracle keeps running. Calls
// abandoned on ctx expiry still hold their slot until the node answers.
const MaxInFlight = 32

var ErrBusy = errors.New("too many node calls in flight")

// RPCOracle asks a full node through the validateaddress call. Cash
// addresses and chain specific formats are understood by the node itself.
type RPCOracle struct {
	client RPCClient
	slots  chan struct{}
}

var (
	_ Oracle       = (*RPCOracle)(nil)
	_ BlockCounter = (*RPCOracle)(nil)
)

func NewRPCOracle(client RPCClient) *RPCOracle {
	return newRPCOracle(client, MaxInFlight)
}

func newRPCOracle(client RPCClient, inflight int) *RPCOracle {
	return &RPCOracle{
		client: client,
		slots:  make(chan struct{}, inflight),
	}
}

func (o *RPCOracle) ValidateAddress(ctx context.Context, address string) (bool, error) {
	param, err := json.Marshal(address)
	if err != nil {
		return false, err
	}
	raw, err := call(ctx, o.slots, func() (json.RawMessage, error) {
		return o.client.RawRequest("validateaddress", []json.RawMessage{param})
	})
	if err != nil {
		return false, fmt.Errorf("validateaddress: %w", err)
	}

	var reply btcjson.ValidateAddressChainResult
	if err := json.Unmarshal(raw, &reply); err != nil {
		return false, fmt.Errorf("decode validateaddress: %w", err)
	}
	return reply.IsValid, nil
}

func (o *RPCOracle) BlockCount(ctx context.Context) (int64, error) {
	return call(ctx, o.slots, o.client.GetBlockCount)
}

// DecodeOracle checks the address format locally, without a node.
// It understands base58 and bech32 mainnet addresses only.
type DecodeOracle struct{}

var _ Oracle = DecodeOracle{}

func (DecodeOracle) ValidateAddress(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := pkg.DecodeAddress(address)
	return err == nil, nil
}

// call runs f in one of slots and gives up when ctx ends first. rpcclient
// has no per-request deadline, so an abandoned call finishes in the
// background and releases its slot only then. With every slot taken by a
// hung node, call fails with ErrBusy instead of piling up goroutines.
func call[T any](ctx context.Context, slots chan struct{}, f func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	select {
	case slots <- struct{}{}:
	default:
		return zero, ErrBusy
	}

	ch := make(chan result, 1)
	go func() {
		defer func() { <-slots }()
		v, err := f()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
