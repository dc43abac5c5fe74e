package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Chain is a supported UTXO coin.
type Chain string

const (
	BTC Chain = "BTC"
	BCH Chain = "BCH"
	BSV Chain = "BSV"
	BTG Chain = "BTG"

	// NotAValidCoin is reported as currency when the requested chain is unknown.
	NotAValidCoin = "not_a_valid_coin"
)

// Chains lists the supported chains in display order.
var Chains = []Chain{BTC, BCH, BSV, BTG}

// ParseChain matches token exactly against the supported chains.
func ParseChain(token string) (Chain, bool) {
	for _, c := range Chains {
		if string(c) == token {
			return c, true
		}
	}
	return "", false
}

// Direction tells whether a ledger entry created an output or spent it.
type Direction uint8

const (
	Creation Direction = iota
	Spend
)

func (d Direction) String() string {
	if d == Spend {
		return "spend"
	}
	return "creation"
}

// LedgerEntry is one row per transaction input or output touching an address.
// A spent output has exactly one Creation and one Spend entry sharing (TxID, Index).
type LedgerEntry struct {
	TxID      string          `json:"txid"`
	Index     uint32          `json:"index"`
	Direction Direction       `json:"direction"`
	Address   string          `json:"address"`
	NetValue  decimal.Decimal `json:"net_value"`
}

// OutPoint identifies the output an entry refers to.
type OutPoint struct {
	TxID  string
	Index uint32
}

func (e LedgerEntry) OutPoint() OutPoint {
	return OutPoint{TxID: e.TxID, Index: e.Index}
}

// ErrorType is the outcome of a balance request.
type ErrorType string

const (
	ErrNone           ErrorType = "none"
	ErrInvalidAddress ErrorType = "invalidaddress"
	ErrServerDown     ErrorType = "serverdown"
	ErrNotAValidCoin  ErrorType = "not_a_valid_coin"
)

// Precision is the number of decimal places of every supported coin.
const Precision = 8

// BalanceResult is the record handed to the transport layer.
type BalanceResult struct {
	Balance     decimal.Decimal
	Currency    string
	BlockHeight int64
	ErrorType   ErrorType
}

type balanceReply struct {
	Balance     json.Number `json:"balance"`
	Currency    string      `json:"currency"`
	BlockHeight int64       `json:"blockheight"`
	ErrorType   ErrorType   `json:"errortype"`
}

// MarshalJSON encodes the balance as a fixed point number, e.g. 0.00000000.
func (r BalanceResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(balanceReply{
		Balance:     json.Number(r.Balance.StringFixed(Precision)),
		Currency:    r.Currency,
		BlockHeight: r.BlockHeight,
		ErrorType:   r.ErrorType,
	})
}

func (r *BalanceResult) UnmarshalJSON(b []byte) error {
	var reply balanceReply
	if err := json.Unmarshal(b, &reply); err != nil {
		return err
	}
	bal, err := decimal.NewFromString(reply.Balance.String())
	if err != nil {
		return err
	}
	*r = BalanceResult{
		Balance:     bal,
		Currency:    reply.Currency,
		BlockHeight: reply.BlockHeight,
		ErrorType:   reply.ErrorType,
	}
	return nil
}

// BalanceRequest is the JSON body of POST /balance.
type BalanceRequest struct {
	Coin    string `json:"coin"`
	Address string `json:"address"`
}

type HeightReply struct {
	Chain       Chain  `json:"chain"`
	StoreHeight int64  `json:"store_height"`
	NodeHeight  int64  `json:"node_height,omitempty"`
	Error       string `json:"error,omitempty"`
}
