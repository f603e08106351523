package wallet

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/SatoriNetwork/satori-lite/internal/backend"
	"github.com/SatoriNetwork/satori-lite/internal/txutil"
)

func sortedByValue(utxos []backend.UTXO, descending bool) []backend.UTXO {
	out := append([]backend.UTXO(nil), utxos...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if descending {
			a, b = b, a
		}
		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}
		if a.TxID != b.TxID {
			return a.TxID < b.TxID
		}
		return a.Vout < b.Vout
	})
	return out
}

// gatherCurrency accumulates pool entries in order until the running total
// covers the target plus the fee its own input count incurs. Every input
// added raises the fee, so the target is re-evaluated per step.
func gatherCurrency(pool []backend.UTXO, targetSats int64, extraInputs, outputCount int, feeRate int64) ([]backend.UTXO, int64, bool) {
	var selected []backend.UTXO
	var gathered int64
	for _, u := range pool {
		if gathered >= targetSats+txutil.EstimateFee(len(selected)+extraInputs, outputCount, feeRate) {
			break
		}
		selected = append(selected, u)
		gathered += u.Amount
	}
	need := targetSats + txutil.EstimateFee(len(selected)+extraInputs, outputCount, feeRate)
	return selected, gathered, gathered >= need
}

// selectCurrency picks currency UTXOs covering targetSats plus fees.
// Smallest-first keeps large outputs intact; if small outputs alone cannot
// outrun the fee they add (the dust trap), selection restarts largest
// first. extraInputs and outputCount describe the rest of the transaction
// for fee purposes. The reserve floor, when positive, must remain in the
// wallet after the spend.
func (w *Wallet) selectCurrency(targetSats int64, extraInputs, outputCount int, randomize bool) ([]backend.UTXO, int64, error) {
	pool := w.unspentCurrency
	if len(pool) == 0 {
		return nil, 0, fmt.Errorf("%w: no currency unspents", ErrInsufficientFunds)
	}

	ordered := sortedByValue(pool, false)
	if randomize {
		ordered = append([]backend.UTXO(nil), pool...)
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}

	selected, gathered, ok := gatherCurrency(ordered, targetSats, extraInputs, outputCount, w.feeRate())
	if !ok {
		// Dust trap: retry largest first before giving up.
		selected, gathered, ok = gatherCurrency(sortedByValue(pool, true), targetSats, extraInputs, outputCount, w.feeRate())
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: need %d sats plus fees, have %d",
			ErrInsufficientFunds, targetSats, totalValue(pool))
	}

	if reserve := w.cfg.ReserveSats(); reserve > 0 {
		fee := txutil.EstimateFee(len(selected)+extraInputs, outputCount, w.feeRate())
		if totalValue(pool)-targetSats-fee < reserve {
			return nil, 0, fmt.Errorf("%w: spend would breach the %d sat reserve",
				ErrInsufficientFunds, reserve)
		}
	}
	return selected, gathered, nil
}

// selectAsset picks asset UTXOs covering targetSats, smallest first. Asset
// inputs carry no fee term; fees come from currency.
func (w *Wallet) selectAsset(targetSats int64) ([]backend.UTXO, int64, error) {
	pool := w.unspentAssets
	if len(pool) == 0 {
		return nil, 0, fmt.Errorf("%w: no %s unspents", ErrInsufficientFunds, w.cfg.Asset)
	}
	var selected []backend.UTXO
	var gathered int64
	for _, u := range sortedByValue(pool, false) {
		if gathered >= targetSats {
			break
		}
		selected = append(selected, u)
		gathered += u.Amount
	}
	if gathered < targetSats {
		return nil, 0, fmt.Errorf("%w: need %d %s sats, have %d",
			ErrInsufficientFunds, targetSats, w.cfg.Asset, gathered)
	}
	return selected, gathered, nil
}

// findExactCurrency locates the currency UTXO whose value is exactly sats.
// The fee-delegation handshake reserves fee UTXOs by exact value, so this
// is how a completer recognizes its own reservation.
func (w *Wallet) findExactCurrency(sats int64) (*backend.UTXO, bool) {
	for i := range w.unspentCurrency {
		if w.unspentCurrency[i].Amount == sats {
			return &w.unspentCurrency[i], true
		}
	}
	return nil, false
}

func totalValue(utxos []backend.UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}
