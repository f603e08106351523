// Package backend defines the chain-query collaborator the transaction
// engine consumes. The engine never talks to a node itself: callers hand it
// an implementation of Backend (an electrum client, a node RPC bridge, a
// fixture in tests) and the engine only reads unspents, resolves locking
// scripts, and submits raw transactions through it.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/SatoriNetwork/satori-lite/pkg/helpers"
)

// Common errors.
var (
	ErrNotConnected    = errors.New("backend not connected")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrBroadcastFailed = errors.New("broadcast failed")
)

// UTXO represents an unspent transaction output. Asset is empty for native
// currency outputs; for tagged outputs it names the asset and Amount is the
// asset quantity. ScriptPubKey may be empty in snapshots and is resolved
// lazily through GetTransaction.
type UTXO struct {
	TxID          string `json:"tx_hash"`
	Vout          uint32 `json:"tx_pos"`
	Amount        int64  `json:"value"`
	Asset         string `json:"asset,omitempty"`
	ScriptPubKey  string `json:"scriptpubkey,omitempty"`
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"height,omitempty"`
}

// Outpoint identifies a UTXO.
func (u *UTXO) Outpoint() string {
	return u.TxID + ":" + itoa(u.Vout)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// TxOutput is an output of a resolved transaction.
type TxOutput struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        int64  `json:"value"`
}

// Transaction is a resolved transaction, as much of it as the engine needs
// to recover locking scripts for its inputs.
type Transaction struct {
	TxID          string     `json:"txid"`
	Confirmations int64      `json:"confirmations"`
	Outputs       []TxOutput `json:"vout"`
	Hex           string     `json:"hex,omitempty"`
}

// Backend is the read-and-broadcast surface the engine consumes. All
// methods are safe for concurrent use.
type Backend interface {
	// ListUnspent returns the unspent outputs locked to a script hash
	// (see ScriptHash), native currency and tagged assets together.
	ListUnspent(ctx context.Context, scriptHash string) ([]UTXO, error)

	// GetTransaction resolves a transaction by id.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Broadcast submits a raw transaction and returns its txid.
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// ScriptHash returns the electrum-style identifier of a locking script:
// SHA-256 of the script, rendered byte-reversed in hex.
func ScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	return hex.EncodeToString(helpers.ReverseBytes(sum[:]))
}
