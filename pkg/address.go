package pkg

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// DecodeAddress parses a legacy, segwit or bech32 mainnet address and
// returns its canonical encoding.
func DecodeAddress(address string) (string, error) {
	addr, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return "", err
	}
	if !addr.IsForNet(&chaincfg.MainNetParams) {
		return "", btcutil.ErrUnknownAddressType
	}
	return addr.EncodeAddress(), nil
}
