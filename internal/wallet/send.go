package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/SatoriNetwork/satori-lite/internal/txutil"
)

// Recipient is one destination of a distribution.
type Recipient struct {
	Address string
	Sats    int64
}

// MaxDistributionRecipients caps recipients per distribution transaction.
const MaxDistributionRecipients = 1000

// maxStandardTxBytes is the relay size ceiling for a standard transaction.
const maxStandardTxBytes = 100_000

func (w *Wallet) checkDestination(address string, sats int64) error {
	if sats <= 0 {
		return fmt.Errorf("amount must be positive, got %d", sats)
	}
	if !w.params.ValidAddress(address) {
		return fmt.Errorf("invalid %s address: %s", w.params.Name, address)
	}
	return nil
}

// SendCurrency builds a transaction paying sats of native currency to
// address, change returning to the wallet.
func (w *Wallet) SendCurrency(address string, sats int64) (*TxResult, error) {
	if err := w.checkDestination(address, sats); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	const outputCount = 2 // recipient + change
	selected, gathered, err := w.selectCurrency(sats, 0, outputCount, false)
	if err != nil {
		return nil, err
	}
	txins, scripts, err := w.compileInputs(selected)
	if err != nil {
		return nil, err
	}
	payOut, err := w.compileCurrencyOutput(address, sats)
	if err != nil {
		return nil, err
	}
	changeOut, fee, err := w.compileCurrencyChangeOutput(sats, gathered, len(txins), outputCount, w.Address())
	if err != nil {
		return nil, err
	}
	txouts := []*wire.TxOut{payOut}
	if changeOut != nil {
		txouts = append(txouts, changeOut)
	}

	tx, err := w.createTransaction(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	return w.finishTx(tx, fee)
}

// SendAsset builds a transaction moving assetSats of the wallet's asset to
// address, fees paid in currency, with an optional memo. Amounts round
// down to the asset's divisibility.
func (w *Wallet) SendAsset(address string, assetSats int64, memo string) (*TxResult, error) {
	assetSats = txutil.RoundSatsDownToDivisibility(assetSats, w.cfg.Divisibility)
	if err := w.checkDestination(address, assetSats); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	assetUTXOs, gatheredAsset, err := w.selectAsset(assetSats)
	if err != nil {
		return nil, err
	}

	outputCount := 2 // transfer + currency change
	if gatheredAsset > assetSats {
		outputCount++
	}
	if memo != "" {
		outputCount++
	}
	currencyUTXOs, gatheredCurrency, err := w.selectCurrency(0, len(assetUTXOs), outputCount, false)
	if err != nil {
		return nil, err
	}

	txins, scripts, err := w.compileInputs(append(assetUTXOs, currencyUTXOs...))
	if err != nil {
		return nil, err
	}

	transferOut, err := w.compileAssetOutput(address, assetSats)
	if err != nil {
		return nil, err
	}
	assetChangeOut, err := w.compileAssetChangeOutput(assetSats, gatheredAsset)
	if err != nil {
		return nil, err
	}
	changeOut, fee, err := w.compileCurrencyChangeOutput(0, gatheredCurrency, len(txins), outputCount, w.Address())
	if err != nil {
		return nil, err
	}
	memoOut, err := w.compileMemoOutput(memo)
	if err != nil {
		return nil, err
	}

	txouts := []*wire.TxOut{transferOut}
	for _, out := range []*wire.TxOut{assetChangeOut, changeOut, memoOut} {
		if out != nil {
			txouts = append(txouts, out)
		}
	}

	tx, err := w.createTransaction(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	return w.finishTx(tx, fee)
}

// SendAssetAndCurrency moves both the asset and native currency to the
// same destination in one transaction.
func (w *Wallet) SendAssetAndCurrency(address string, assetSats, currencySats int64) (*TxResult, error) {
	assetSats = txutil.RoundSatsDownToDivisibility(assetSats, w.cfg.Divisibility)
	if err := w.checkDestination(address, assetSats); err != nil {
		return nil, err
	}
	if currencySats <= 0 {
		return nil, fmt.Errorf("currency amount must be positive, got %d", currencySats)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	assetUTXOs, gatheredAsset, err := w.selectAsset(assetSats)
	if err != nil {
		return nil, err
	}

	outputCount := 3 // asset transfer + currency pay + currency change
	if gatheredAsset > assetSats {
		outputCount++
	}
	currencyUTXOs, gatheredCurrency, err := w.selectCurrency(currencySats, len(assetUTXOs), outputCount, false)
	if err != nil {
		return nil, err
	}

	txins, scripts, err := w.compileInputs(append(assetUTXOs, currencyUTXOs...))
	if err != nil {
		return nil, err
	}

	transferOut, err := w.compileAssetOutput(address, assetSats)
	if err != nil {
		return nil, err
	}
	payOut, err := w.compileCurrencyOutput(address, currencySats)
	if err != nil {
		return nil, err
	}
	assetChangeOut, err := w.compileAssetChangeOutput(assetSats, gatheredAsset)
	if err != nil {
		return nil, err
	}
	changeOut, fee, err := w.compileCurrencyChangeOutput(currencySats, gatheredCurrency, len(txins), outputCount, w.Address())
	if err != nil {
		return nil, err
	}

	txouts := []*wire.TxOut{transferOut, payOut}
	for _, out := range []*wire.TxOut{assetChangeOut, changeOut} {
		if out != nil {
			txouts = append(txouts, out)
		}
	}

	tx, err := w.createTransaction(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	return w.finishTx(tx, fee)
}

// Distribute pays the wallet's asset to up to MaxDistributionRecipients
// destinations in a single transaction.
func (w *Wallet) Distribute(recipients []Recipient, memo string) (*TxResult, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	if len(recipients) > MaxDistributionRecipients {
		return nil, fmt.Errorf("too many recipients: %d exceeds %d", len(recipients), MaxDistributionRecipients)
	}
	var totalAsset int64
	rounded := make([]Recipient, len(recipients))
	for i, r := range recipients {
		r.Sats = txutil.RoundSatsDownToDivisibility(r.Sats, w.cfg.Divisibility)
		if err := w.checkDestination(r.Address, r.Sats); err != nil {
			return nil, err
		}
		rounded[i] = r
		totalAsset += r.Sats
	}
	recipients = rounded

	w.mu.Lock()
	defer w.mu.Unlock()

	assetUTXOs, gatheredAsset, err := w.selectAsset(totalAsset)
	if err != nil {
		return nil, err
	}

	outputCount := len(recipients) + 1 // transfers + currency change
	if gatheredAsset > totalAsset {
		outputCount++
	}
	if memo != "" {
		outputCount++
	}
	currencyUTXOs, gatheredCurrency, err := w.selectCurrency(0, len(assetUTXOs), outputCount, false)
	if err != nil {
		return nil, err
	}

	inputCount := len(assetUTXOs) + len(currencyUTXOs)
	if size := txutil.EstimateSize(inputCount, outputCount, 1); size > maxStandardTxBytes {
		return nil, fmt.Errorf("distribution of %d bytes exceeds the %d byte relay limit",
			size, maxStandardTxBytes)
	}

	txins, scripts, err := w.compileInputs(append(assetUTXOs, currencyUTXOs...))
	if err != nil {
		return nil, err
	}

	var txouts []*wire.TxOut
	for _, r := range recipients {
		out, err := w.compileAssetOutput(r.Address, r.Sats)
		if err != nil {
			return nil, err
		}
		txouts = append(txouts, out)
	}
	assetChangeOut, err := w.compileAssetChangeOutput(totalAsset, gatheredAsset)
	if err != nil {
		return nil, err
	}
	changeOut, fee, err := w.compileCurrencyChangeOutput(0, gatheredCurrency, len(txins), outputCount, w.Address())
	if err != nil {
		return nil, err
	}
	memoOut, err := w.compileMemoOutput(memo)
	if err != nil {
		return nil, err
	}
	for _, out := range []*wire.TxOut{assetChangeOut, changeOut, memoOut} {
		if out != nil {
			txouts = append(txouts, out)
		}
	}

	tx, err := w.createTransaction(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	return w.finishTx(tx, fee)
}

// Sweep moves the wallet's entire balance, currency and asset both, to
// address. The fee comes out of the currency total; no change returns.
func (w *Wallet) Sweep(address string) (*TxResult, error) {
	if !w.params.ValidAddress(address) {
		return nil, fmt.Errorf("invalid %s address: %s", w.params.Name, address)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	currencyUTXOs := sortedByValue(w.unspentCurrency, false)
	assetUTXOs := sortedByValue(w.unspentAssets, false)
	if len(currencyUTXOs) == 0 {
		return nil, fmt.Errorf("%w: no currency unspents", ErrInsufficientFunds)
	}
	totalCurrency := totalValue(currencyUTXOs)
	totalAsset := totalValue(assetUTXOs)

	outputCount := 1
	if totalAsset > 0 {
		outputCount++
	}
	fee := w.estimateFee(len(currencyUTXOs)+len(assetUTXOs), outputCount)
	if totalCurrency-fee <= 0 {
		return nil, fmt.Errorf("%w: balance %d sats does not cover the %d sat sweep fee",
			ErrInsufficientFunds, totalCurrency, fee)
	}

	txins, scripts, err := w.compileInputs(append(assetUTXOs, currencyUTXOs...))
	if err != nil {
		return nil, err
	}

	var txouts []*wire.TxOut
	if totalAsset > 0 {
		out, err := w.compileAssetOutput(address, totalAsset)
		if err != nil {
			return nil, err
		}
		txouts = append(txouts, out)
	}
	payOut, err := w.compileCurrencyOutput(address, totalCurrency-fee)
	if err != nil {
		return nil, err
	}
	txouts = append(txouts, payOut)

	tx, err := w.createTransaction(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	return w.finishTx(tx, fee)
}
