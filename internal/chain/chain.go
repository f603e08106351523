// Package chain defines network parameters and address encoding for the
// Evrmore-family chains the engine builds transactions for.
// All chain-specific values are hardcoded here - no external configuration needed.
package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Address errors.
var (
	ErrInvalidAddress = errors.New("invalid address")
)

// Params contains the parameters of an asset-capable UTXO chain.
type Params struct {
	// Identity
	Symbol   string // EVR, RVN
	Name     string // Evrmore, Ravencoin
	Decimals uint8

	// SymbolBytes is the lowercase chain tag embedded in asset-transfer
	// scripts ("evr", "rvn").
	SymbolBytes []byte

	// Address version bytes
	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	WIF              byte

	// Well-known protocol addresses. BurnAddress receives asset burns for
	// bridge transfers; BridgeAddress collects the bridge service fee.
	BurnAddress   string
	BridgeAddress string
}

// EvrmoreMainNetParams are the parameters of the Evrmore main network.
var EvrmoreMainNetParams = Params{
	Symbol:           "EVR",
	Name:             "Evrmore",
	Decimals:         8,
	SymbolBytes:      []byte("evr"),
	PubKeyHashAddrID: 33, // addresses start with 'E'
	ScriptHashAddrID: 92, // addresses start with 'e'
	WIF:              128,
	BurnAddress:      "EXBurnMintXXXXXXXXXXXXXXXXXXXbdK5E",
	BridgeAddress:    "EUqCW1WmT6a9Y6RBVhsxY1k4S135RPWCy7",
}

// EvrmoreTestNetParams are the parameters of the Evrmore test network.
var EvrmoreTestNetParams = Params{
	Symbol:           "tEVR",
	Name:             "Evrmore Testnet",
	Decimals:         8,
	SymbolBytes:      []byte("evr"),
	PubKeyHashAddrID: 111,
	ScriptHashAddrID: 196,
	WIF:              239,
	BurnAddress:      "n1BurnXXXXXXXXXXXXXXXXXXXXXXU1qejP",
}

// RavencoinMainNetParams are the parameters of the Ravencoin main network.
// Kept for asset scripts that carry the "rvn" tag.
var RavencoinMainNetParams = Params{
	Symbol:           "RVN",
	Name:             "Ravencoin",
	Decimals:         8,
	SymbolBytes:      []byte("rvn"),
	PubKeyHashAddrID: 60,
	ScriptHashAddrID: 122,
	WIF:              128,
}

// ParamsFor returns the Evrmore parameters for a network.
func ParamsFor(network Network) (*Params, error) {
	switch network {
	case Mainnet:
		return &EvrmoreMainNetParams, nil
	case Testnet:
		return &EvrmoreTestNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// PubKeyHashToAddress encodes a 20-byte pubkey hash as a base58check
// pay-to-pubkey-hash address.
func (p *Params) PubKeyHashToAddress(h160 []byte) string {
	return base58.CheckEncode(h160, p.PubKeyHashAddrID)
}

// ScriptHashToAddress encodes a 20-byte script hash as a base58check
// pay-to-script-hash address.
func (p *Params) ScriptHashToAddress(h160 []byte) string {
	return base58.CheckEncode(h160, p.ScriptHashAddrID)
}

// PubKeyToAddress derives the P2PKH address of a serialized public key.
func (p *Params) PubKeyToAddress(pubKey []byte) string {
	return p.PubKeyHashToAddress(btcutil.Hash160(pubKey))
}

// DecodeAddress decodes a base58check address belonging to this network.
// It returns the 20-byte hash payload and whether the address is P2SH.
func (p *Params) DecodeAddress(addr string) (h160 []byte, isP2SH bool, err error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, addr, err)
	}
	if len(payload) != 20 {
		return nil, false, fmt.Errorf("%w: %s: payload is %d bytes", ErrInvalidAddress, addr, len(payload))
	}
	switch version {
	case p.PubKeyHashAddrID:
		return payload, false, nil
	case p.ScriptHashAddrID:
		return payload, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %s: version byte %d not on %s", ErrInvalidAddress, addr, version, p.Name)
	}
}

// AddressToPubKeyHash decodes a P2PKH address to its 20-byte pubkey hash.
func (p *Params) AddressToPubKeyHash(addr string) ([]byte, error) {
	h160, isP2SH, err := p.DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	if isP2SH {
		return nil, fmt.Errorf("%w: %s: script-hash address where pubkey-hash expected", ErrInvalidAddress, addr)
	}
	return h160, nil
}

// ValidAddress reports whether addr decodes on this network.
func (p *Params) ValidAddress(addr string) bool {
	_, _, err := p.DecodeAddress(addr)
	return err == nil
}
