package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"

	"github.com/SatoriNetwork/satori-lite/internal/backend"
	"github.com/SatoriNetwork/satori-lite/internal/script"
	"github.com/SatoriNetwork/satori-lite/internal/txutil"
)

// PartialResult is an originator's half of a fee-delegated transaction:
// asset inputs signed ANYONECANPAY|ALL, outputs fixed, waiting for the
// completer's currency input.
type PartialResult struct {
	Tx              *wire.MsgTx
	TxHex           string
	ReportedFeeSats int64
}

// FeeOffer is the completer's side of the fee-delegation handshake: one
// currency UTXO reserved by exact value, plus the addresses the originator
// must pay the claim and route the change to.
type FeeOffer struct {
	ReservationID    string
	FeeSatsReserved  int64
	CompleterAddress string
	ChangeAddress    string
}

// PartialSendParams describes a fee-delegated asset send.
type PartialSendParams struct {
	AssetSats int64
	Address   string

	// PullFeeFromAmount deducts the mundo fee from AssetSats instead of
	// adding it on top.
	PullFeeFromAmount bool

	// Handshake values from the completer's FeeOffer.
	FeeSatsReserved  int64
	CompleterAddress string
	ChangeAddress    string
}

// AssetPartialSend builds the originator's half of a fee-delegated asset
// transfer. The wallet needs no currency: it signs only asset inputs, pays
// the completer a mundo-fee claim in the asset, and fixes the completer's
// currency change as the last output.
func (w *Wallet) AssetPartialSend(p PartialSendParams) (*PartialResult, error) {
	mundoFee := w.cfg.MundoFeeSats()
	sats := p.AssetSats
	if p.PullFeeFromAmount {
		sats -= mundoFee
	}
	sats = txutil.RoundSatsDownToDivisibility(sats, w.cfg.Divisibility)
	if err := w.checkDestination(p.Address, sats); err != nil {
		return nil, err
	}
	if !w.params.ValidAddress(p.CompleterAddress) {
		return nil, fmt.Errorf("invalid completer address: %s", p.CompleterAddress)
	}
	if !w.params.ValidAddress(p.ChangeAddress) {
		return nil, fmt.Errorf("invalid change address: %s", p.ChangeAddress)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	assetUTXOs, gatheredAsset, err := w.selectAsset(sats + mundoFee)
	if err != nil {
		return nil, err
	}

	transferOut, err := w.compileAssetOutput(p.Address, sats)
	if err != nil {
		return nil, err
	}
	assetChangeOut, err := w.compileAssetChangeOutput(sats+mundoFee, gatheredAsset)
	if err != nil {
		return nil, err
	}
	claimOut, err := w.compileAssetOutput(p.CompleterAddress, mundoFee)
	if err != nil {
		return nil, err
	}

	txouts := []*wire.TxOut{transferOut}
	if assetChangeOut != nil {
		txouts = append(txouts, assetChangeOut)
	}
	txouts = append(txouts, claimOut)

	// One completer input and one currency-change output join later.
	reportedFee := txutil.EstimateFee(len(assetUTXOs)+1, len(txouts)+1, w.feeRate())
	changeSats := p.FeeSatsReserved - reportedFee
	if changeSats <= 0 {
		return nil, fmt.Errorf("%w: reserved fee %d sats does not cover the %d sat fee",
			ErrInsufficientFunds, p.FeeSatsReserved, reportedFee)
	}
	changeOut, err := w.compileCurrencyOutput(p.ChangeAddress, changeSats)
	if err != nil {
		return nil, err
	}
	txouts = append(txouts, changeOut)

	txins, scripts, err := w.compileInputs(assetUTXOs)
	if err != nil {
		return nil, err
	}
	tx, err := w.createPartialOriginator(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	txHex, err := SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	w.log.Debug("built partial asset send",
		"asset_sats", sats, "reported_fee", reportedFee)
	return &PartialResult{Tx: tx, TxHex: txHex, ReportedFeeSats: reportedFee}, nil
}

// BridgePartialParams describes a fee-delegated bridge transfer: the asset
// is paid to the burn address and a memo routes it to an address on the
// destination chain.
type BridgePartialParams struct {
	AssetSats  int64
	EthAddress string

	FeeSatsReserved  int64
	CompleterAddress string
	ChangeAddress    string
}

// BridgePartialSend builds the originator's half of a bridge transfer.
// The bridge fee is paid in the asset, covered by the originator's asset
// inputs like the mundo fee. Output layout: burn transfer, optional asset
// change, mundo-fee claim, bridge-fee asset payment, currency change, memo.
func (w *Wallet) BridgePartialSend(p BridgePartialParams) (*PartialResult, error) {
	if len(p.EthAddress) != 42 || !strings.HasPrefix(p.EthAddress, "0x") {
		return nil, fmt.Errorf("invalid ethereum address: %s", p.EthAddress)
	}
	if p.AssetSats > w.cfg.MaxBridgeAmountSats() {
		return nil, fmt.Errorf("bridge amount %d sats exceeds cap %d", p.AssetSats, w.cfg.MaxBridgeAmountSats())
	}
	if w.params.BurnAddress == "" || w.params.BridgeAddress == "" {
		return nil, fmt.Errorf("bridge is not available on %s", w.params.Name)
	}
	mundoFee := w.cfg.MundoFeeSats()
	bridgeFee := w.cfg.BridgeFeeSats()
	sats := txutil.RoundSatsDownToDivisibility(p.AssetSats, w.cfg.Divisibility)
	if err := w.checkDestination(w.params.BurnAddress, sats); err != nil {
		return nil, err
	}
	if !w.params.ValidAddress(p.CompleterAddress) {
		return nil, fmt.Errorf("invalid completer address: %s", p.CompleterAddress)
	}
	if !w.params.ValidAddress(p.ChangeAddress) {
		return nil, fmt.Errorf("invalid change address: %s", p.ChangeAddress)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	assetUTXOs, gatheredAsset, err := w.selectAsset(sats + mundoFee + bridgeFee)
	if err != nil {
		return nil, err
	}

	burnOut, err := w.compileAssetOutput(w.params.BurnAddress, sats)
	if err != nil {
		return nil, err
	}
	assetChangeOut, err := w.compileAssetChangeOutput(sats+mundoFee+bridgeFee, gatheredAsset)
	if err != nil {
		return nil, err
	}
	claimOut, err := w.compileAssetOutput(p.CompleterAddress, mundoFee)
	if err != nil {
		return nil, err
	}
	bridgeFeeOut, err := w.compileAssetOutput(w.params.BridgeAddress, bridgeFee)
	if err != nil {
		return nil, err
	}
	memoOut, err := w.compileMemoOutput("ethereum:" + p.EthAddress)
	if err != nil {
		return nil, err
	}

	txouts := []*wire.TxOut{burnOut}
	if assetChangeOut != nil {
		txouts = append(txouts, assetChangeOut)
	}
	txouts = append(txouts, claimOut, bridgeFeeOut)

	// One completer input, plus the memo and change outputs still to come.
	reportedFee := txutil.EstimateFee(len(assetUTXOs)+1, len(txouts)+2, w.feeRate())
	changeSats := p.FeeSatsReserved - reportedFee
	if changeSats <= 0 {
		return nil, fmt.Errorf("%w: reserved fee %d sats does not cover the %d sat fee",
			ErrInsufficientFunds, p.FeeSatsReserved, reportedFee)
	}
	changeOut, err := w.compileCurrencyOutput(p.ChangeAddress, changeSats)
	if err != nil {
		return nil, err
	}
	txouts = append(txouts, changeOut, memoOut)

	txins, scripts, err := w.compileInputs(assetUTXOs)
	if err != nil {
		return nil, err
	}
	tx, err := w.createPartialOriginator(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	txHex, err := SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	return &PartialResult{Tx: tx, TxHex: txHex, ReportedFeeSats: reportedFee}, nil
}

// SweepPartial is a fee-delegated sweep: the wallet's full asset balance,
// minus the mundo fee, moves to address.
func (w *Wallet) SweepPartial(address string, feeSatsReserved int64, completerAddress, changeAddress string) (*PartialResult, error) {
	return w.AssetPartialSend(PartialSendParams{
		AssetSats:         w.AssetBalance(),
		Address:           address,
		PullFeeFromAmount: true,
		FeeSatsReserved:   feeSatsReserved,
		CompleterAddress:  completerAddress,
		ChangeAddress:     changeAddress,
	})
}

// OfferFeeReservation reserves one currency UTXO for an originator and
// returns the handshake values. Requires the persistent ledger.
func (w *Wallet) OfferFeeReservation(minSats int64) (*FeeOffer, error) {
	if w.store == nil {
		return nil, fmt.Errorf("fee reservations require storage")
	}
	if minSats <= 0 {
		// Enough for a typical delegated send: a handful of inputs and
		// outputs at the configured rate.
		minSats = w.estimateFee(3, 5)
	}
	r, err := w.store.ReserveFeeUTXO(minSats, w.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReservedUTXONotFound, err)
	}
	w.log.Info("reserved fee utxo", "id", r.ID, "sats", r.Amount)
	return &FeeOffer{
		ReservationID:    r.ID,
		FeeSatsReserved:  r.Amount,
		CompleterAddress: w.Address(),
		ChangeAddress:    w.Address(),
	}, nil
}

// CompletePartialParams describes the completer's verification inputs:
// the values it handed out in its FeeOffer plus the originator's claim.
type CompletePartialParams struct {
	TxHex           string
	FeeSatsReserved int64
	ReportedFeeSats int64
	ChangeAddress   string
	Bridge          bool
}

// CompletePartial verifies an originator's partial transaction, appends
// the reserved currency input, signs it, and broadcasts. Checks run fail
// closed and in order: fee, claim value, claim address, change address,
// reserved UTXO. Each failure is a distinct error under ErrFeeDelegation.
func (w *Wallet) CompletePartial(ctx context.Context, p CompletePartialParams) (*TxResult, error) {
	tx, err := DeserializeTx(p.TxHex)
	if err != nil {
		return nil, err
	}

	minOuts := 3 // transfer, claim, change
	claimIdxFromEnd := 2
	changeIdxFromEnd := 1
	if p.Bridge {
		minOuts = 5 // burn, claim, bridge asset fee, change, memo
		claimIdxFromEnd = 4
		changeIdxFromEnd = 2
	}
	if len(tx.TxOut) < minOuts {
		return nil, fmt.Errorf("%w: %d outputs, expected at least %d", ErrFeeMismatch, len(tx.TxOut), minOuts)
	}
	changeOut := tx.TxOut[len(tx.TxOut)-changeIdxFromEnd]
	claimOut := tx.TxOut[len(tx.TxOut)-claimIdxFromEnd]

	// 1. Fee: the change output must account for exactly the reported
	// fee, and the reported fee must stay under the ceiling.
	implied := p.FeeSatsReserved - changeOut.Value
	if p.ReportedFeeSats <= 0 || p.ReportedFeeSats >= w.cfg.MaxReportedFeeSats() || implied != p.ReportedFeeSats {
		return nil, fmt.Errorf("%w: reported %d sats, change implies %d", ErrFeeMismatch, p.ReportedFeeSats, implied)
	}

	// 2. Claim value: the claim output must pay exactly the mundo fee in
	// the watched asset, and a bridge transfer must also pay the bridge
	// fee in the asset to the bridge address.
	transfer, ok, err := script.ParseAssetTag(script.Script(claimOut.PkScript))
	if err != nil || !ok || transfer.Name != w.cfg.Asset || transfer.Sats != w.cfg.MundoFeeSats() {
		return nil, fmt.Errorf("%w: claim output does not pay the %d sat %s fee",
			ErrClaimMismatch, w.cfg.MundoFeeSats(), w.cfg.Asset)
	}
	if p.Bridge {
		bridgeOut := tx.TxOut[len(tx.TxOut)-3]
		bridgeTag, ok, err := script.ParseAssetTag(script.Script(bridgeOut.PkScript))
		if err != nil || !ok || bridgeTag.Name != w.cfg.Asset || bridgeTag.Sats != w.cfg.BridgeFeeSats() {
			return nil, fmt.Errorf("%w: bridge output does not pay the %d sat %s bridge fee",
				ErrClaimMismatch, w.cfg.BridgeFeeSats(), w.cfg.Asset)
		}
		bridgeH160, err := script.ExtractPubKeyHash(script.Script(bridgeOut.PkScript))
		if err != nil || w.params.PubKeyHashToAddress(bridgeH160) != w.params.BridgeAddress {
			return nil, fmt.Errorf("%w: bridge output does not pay the bridge address", ErrClaimMismatch)
		}
	}

	// 3. Claim address: re-derive from the script, never trust the label.
	claimH160, err := script.ExtractPubKeyHash(script.Script(claimOut.PkScript))
	if err != nil || w.params.PubKeyHashToAddress(claimH160) != w.Address() {
		return nil, fmt.Errorf("%w: claim does not pay this completer", ErrClaimAddressMismatch)
	}

	// 4. Change address.
	changeH160, err := script.ExtractPubKeyHash(script.Script(changeOut.PkScript))
	if err != nil || w.params.PubKeyHashToAddress(changeH160) != p.ChangeAddress {
		return nil, fmt.Errorf("%w: change does not pay %s", ErrChangeAddressMismatch, p.ChangeAddress)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// 5. The reserved UTXO, recognized by exact value.
	reserved, reservationID, err := w.reservedUTXO(p.FeeSatsReserved)
	if err != nil {
		return nil, err
	}

	txins, scripts, err := w.compileInputs([]backend.UTXO{*reserved})
	if err != nil {
		return nil, err
	}
	if err := w.completePartial(tx, txins, scripts); err != nil {
		return nil, err
	}

	result, err := w.finishTx(tx, p.ReportedFeeSats)
	if err != nil {
		return nil, err
	}
	if w.backend != nil {
		if _, err := w.backend.Broadcast(ctx, result.TxHex); err != nil {
			if w.store != nil && reservationID != "" {
				_ = w.store.ReleaseFeeReservation(reservationID)
			}
			return nil, fmt.Errorf("%w: %v", ErrBroadcast, err)
		}
	}
	if w.store != nil && reservationID != "" {
		if err := w.store.ConsumeFeeReservation(reservationID, result.TxID); err != nil {
			w.log.Error("consume fee reservation", "id", reservationID, "err", err)
		}
	}
	w.log.Info("completed delegated transaction", "txid", result.TxID, "fee", p.ReportedFeeSats)
	return result, nil
}

// reservedUTXO finds the currency UTXO reserved at exactly sats, checking
// the persistent ledger first and the snapshot second.
func (w *Wallet) reservedUTXO(sats int64) (*backend.UTXO, string, error) {
	if w.store != nil {
		r, err := w.store.FindFeeReservationByValue(sats)
		if err != nil {
			return nil, "", err
		}
		if r != nil {
			u := &backend.UTXO{TxID: r.TxID, Vout: r.Vout, Amount: r.Amount}
			if stored, err := w.store.GetUTXO(r.TxID, r.Vout); err == nil && stored != nil {
				u.ScriptPubKey = stored.ScriptPubKey
			}
			return u, r.ID, nil
		}
	}
	if u, ok := w.findExactCurrency(sats); ok {
		return u, "", nil
	}
	return nil, "", fmt.Errorf("%w: no currency utxo of exactly %d sats", ErrReservedUTXONotFound, sats)
}
