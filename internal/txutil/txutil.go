// Package txutil provides fee estimation, size estimation, and satoshi
// arithmetic shared by the transaction builders.
package txutil

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// SatsPerCoin is the number of satoshis in one coin.
	SatsPerCoin = 100_000_000

	// DefaultFeeRate is the flat per-element fee rate in satoshis. Fees
	// are charged per input plus output rather than per byte.
	DefaultFeeRate = 150_000

	// MaxDivisibility is the finest supported asset divisibility.
	MaxDivisibility = 8
)

// EstimateFee returns the fee for a transaction shape. feeRate <= 0 selects
// DefaultFeeRate.
func EstimateFee(inputCount, outputCount int, feeRate int64) int64 {
	if feeRate <= 0 {
		feeRate = DefaultFeeRate
	}
	return int64(inputCount+outputCount) * feeRate
}

// EstimateSize returns the serialized size in bytes of a transaction with
// the given shape: 10 bytes of framing, each input contributing outpoint
// (32+4), script length byte, signatures (72 each), pubkey (33), and
// sequence (4), each output contributing value (8), script length byte,
// and a P2PKH script (25).
func EstimateSize(inputCount, outputCount, sigsPerInput int) int {
	if sigsPerInput < 1 {
		sigsPerInput = 1
	}
	inputSize := 32 + 4 + 1 + 72*sigsPerInput + 33 + 4
	outputSize := 8 + 1 + 25
	return 10 + inputCount*inputSize + outputCount*outputSize
}

// TxIDFromHex computes the transaction id of a serialized transaction:
// double SHA-256 of the raw bytes, rendered byte-reversed.
func TxIDFromHex(txHex string) (string, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", fmt.Errorf("invalid transaction hex: %w", err)
	}
	return chainhash.DoubleHashH(raw).String(), nil
}

func pow10(n uint8) int64 {
	v := int64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

// IsDivisibilityValid reports whether sats is representable under the
// asset's divisibility: divisibility d leaves the trailing 8-d decimal
// digits zero.
func IsDivisibilityValid(sats int64, divisibility uint8) bool {
	if divisibility >= MaxDivisibility {
		return true
	}
	if sats < 0 {
		sats = -sats
	}
	return sats%pow10(MaxDivisibility-divisibility) == 0
}

// RoundSatsDownToDivisibility truncates sats to the largest value valid
// under the asset's divisibility.
func RoundSatsDownToDivisibility(sats int64, divisibility uint8) int64 {
	if divisibility >= MaxDivisibility || sats <= 0 {
		return sats
	}
	return sats - sats%pow10(MaxDivisibility-divisibility)
}
