// Package script builds and parses the locking and redeem scripts used by
// the transaction engine: pay-to-pubkey-hash with an optional asset
// transfer tag, pay-to-script-hash, data-carrier memos, and the multisig
// and payment-channel redeem scripts.
package script

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/SatoriNetwork/satori-lite/internal/chain"
)

// Construction and parsing errors.
var (
	ErrConstruction = errors.New("script construction failed")
	ErrParse        = errors.New("script parse failed")
)

// Script is a serialized ledger script.
type Script []byte

// Bytes returns the raw script bytes.
func (s Script) Bytes() []byte { return []byte(s) }

// Hex returns the script as a hex string.
func (s Script) Hex() string { return hex.EncodeToString(s) }

// FromHex decodes a hex-encoded script.
func FromHex(h string) (Script, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", ErrParse, err)
	}
	return Script(raw), nil
}

// P2SHAddress returns the pay-to-script-hash address of s treated as a
// redeem script.
func (s Script) P2SHAddress(params *chain.Params) string {
	return params.ScriptHashToAddress(btcutil.Hash160(s))
}

// PayToPubKeyHash builds a standard P2PKH locking script.
func PayToPubKeyHash(pubKeyHash []byte) (Script, error) {
	if len(pubKeyHash) != 20 {
		return nil, fmt.Errorf("%w: pubkey hash must be 20 bytes, got %d", ErrConstruction, len(pubKeyHash))
	}
	raw, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	return Script(raw), nil
}

// PayToScriptHash builds a P2SH locking script for a redeem script.
func PayToScriptHash(redeem Script) (Script, error) {
	if len(redeem) == 0 {
		return nil, fmt.Errorf("%w: empty redeem script", ErrConstruction)
	}
	raw, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeem)).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	return Script(raw), nil
}

// PayToAddress builds the locking script for a base58check address,
// selecting P2PKH or P2SH from the address version byte.
func PayToAddress(addr string, params *chain.Params) (Script, error) {
	h160, isP2SH, err := params.DecodeAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	if isP2SH {
		raw, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).
			AddData(h160).
			AddOp(txscript.OP_EQUAL).
			Script()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
		}
		return Script(raw), nil
	}
	return PayToPubKeyHash(h160)
}

// Memo length bounds, both exclusive.
const (
	MemoMinLen = 4
	MemoMaxLen = 80
)

// NullData builds an OP_RETURN memo script. The memo must be longer than
// MemoMinLen and shorter than MemoMaxLen bytes; callers skip the output
// entirely for an empty memo.
func NullData(memo []byte) (Script, error) {
	if len(memo) <= MemoMinLen || len(memo) >= MemoMaxLen {
		return nil, fmt.Errorf("%w: memo length %d outside (%d, %d)",
			ErrConstruction, len(memo), MemoMinLen, MemoMaxLen)
	}
	raw, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(memo).
		Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	return Script(raw), nil
}

// ExtractPubKeyHash returns the 20-byte hash from a P2PKH locking script.
// Asset-tagged variants are accepted: the tag is appended after the
// standard 25-byte prefix.
func ExtractPubKeyHash(s Script) ([]byte, error) {
	if len(s) < 25 ||
		s[0] != txscript.OP_DUP ||
		s[1] != txscript.OP_HASH160 ||
		s[2] != 0x14 ||
		s[23] != txscript.OP_EQUALVERIFY ||
		s[24] != txscript.OP_CHECKSIG {
		return nil, fmt.Errorf("%w: not a pay-to-pubkey-hash script", ErrParse)
	}
	h160 := make([]byte, 20)
	copy(h160, s[3:23])
	return h160, nil
}

// IsPayToScriptHash reports whether s is a P2SH locking script.
func IsPayToScriptHash(s Script) bool {
	return len(s) == 23 &&
		s[0] == txscript.OP_HASH160 &&
		s[1] == 0x14 &&
		s[22] == txscript.OP_EQUAL
}
