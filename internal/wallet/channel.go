package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/SatoriNetwork/satori-lite/internal/script"
)

// DefaultCommitmentFeeSats is the base fee a channel transaction budgets
// when the caller does not supply one.
const DefaultCommitmentFeeSats = 12_000

// OpenChannelParams configures a unidirectional payment channel funded by
// this wallet. Exactly one timeout field must be set; relative timeouts
// (blocks or minutes) produce renewable channels, absolute ones (height or
// unix timestamp) do not.
type OpenChannelParams struct {
	ReceiverPubKey []byte
	FundingSats    int64

	TimeoutBlocks  uint32
	TimeoutMinutes uint32
	TimeoutHeight  uint32
	TimeoutUnix    int64
}

// ChannelOpen is an opened channel: the funding transaction pays the
// channel's P2SH address at FundingVout. The funding transaction is built
// and signed but not broadcast.
type ChannelOpen struct {
	Funding     *TxResult
	Redeem      script.Script
	Address     string
	FundingVout uint32
}

func (p *OpenChannelParams) redeemScript(senderPub []byte) (script.Script, error) {
	set := 0
	for _, on := range []bool{p.TimeoutBlocks > 0, p.TimeoutMinutes > 0, p.TimeoutHeight > 0, p.TimeoutUnix > 0} {
		if on {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one timeout must be set", script.ErrConstruction)
	}
	switch {
	case p.TimeoutBlocks > 0:
		return script.RenewableChannel(senderPub, p.ReceiverPubKey, p.TimeoutBlocks)
	case p.TimeoutMinutes > 0:
		return script.RenewableChannelByTime(senderPub, p.ReceiverPubKey, p.TimeoutMinutes)
	case p.TimeoutHeight > 0:
		return script.NonRenewableChannel(senderPub, p.ReceiverPubKey, p.TimeoutHeight)
	default:
		return script.NonRenewableChannelByTime(senderPub, p.ReceiverPubKey, p.TimeoutUnix)
	}
}

// OpenChannel builds the channel redeem script and a funding transaction
// paying its P2SH address. The caller broadcasts the funding transaction
// once the receiver has acknowledged the channel terms.
func (w *Wallet) OpenChannel(p OpenChannelParams) (*ChannelOpen, error) {
	if p.FundingSats <= 0 {
		return nil, fmt.Errorf("funding must be positive, got %d sats", p.FundingSats)
	}
	redeem, err := p.redeemScript(w.PubKey())
	if err != nil {
		return nil, err
	}
	lock, err := script.PayToScriptHash(redeem)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	utxos, gathered, err := w.selectCurrency(p.FundingSats, 0, 2, false)
	if err != nil {
		return nil, err
	}
	txouts := []*wire.TxOut{wire.NewTxOut(p.FundingSats, lock.Bytes())}
	changeOut, fee, err := w.compileCurrencyChangeOutput(p.FundingSats, gathered, len(utxos), 2, w.Address())
	if err != nil {
		return nil, err
	}
	if changeOut != nil {
		txouts = append(txouts, changeOut)
	}

	txins, scripts, err := w.compileInputs(utxos)
	if err != nil {
		return nil, err
	}
	tx, err := w.createTransaction(txins, scripts, txouts)
	if err != nil {
		return nil, err
	}
	funding, err := w.finishTx(tx, fee)
	if err != nil {
		return nil, err
	}
	w.log.Info("opened channel", "address", lock.P2SHAddress(w.params), "funding_txid", funding.TxID)
	return &ChannelOpen{
		Funding:     funding,
		Redeem:      redeem,
		Address:     lock.P2SHAddress(w.params),
		FundingVout: 0,
	}, nil
}

// CommitmentParams describes one payment state of a channel, spending the
// funding output.
type CommitmentParams struct {
	Redeem      script.Script
	FundingTxID string
	FundingVout uint32
	FundingSats int64
	PaySats     int64

	// TxFeeSats is the base transaction fee the commitment budgets for.
	// The collapse branch spends 2x this, the two-output branch 3x. Zero
	// means DefaultCommitmentFeeSats.
	TxFeeSats int64

	// DustMultiple scales the dust threshold below which no change output
	// returns to the channel. Zero means 1.
	DustMultiple int64

	// RespectDustZone rejects payments whose channel remainder would fall
	// inside the dust zone instead of silently collapsing the channel.
	RespectDustZone bool
}

// channelSig signs input idx of tx over the redeem script and returns the
// DER signature with the sighash flag appended.
func (w *Wallet) channelSig(tx *wire.MsgTx, idx int, redeem script.Script, hashType txscript.SigHashType) ([]byte, error) {
	digest, err := txscript.CalcSignatureHash(redeem.Bytes(), hashType, tx, idx)
	if err != nil {
		return nil, fmt.Errorf("sighash input %d: %w", idx, err)
	}
	der, err := w.identity.SignHash(digest)
	if err != nil {
		return nil, fmt.Errorf("sign input %d: %w", idx, err)
	}
	return append(der, byte(hashType)), nil
}

// CreateCommitmentTx builds the sender's half of a channel payment. The
// transaction spends the funding output, paying PaySats to the receiver
// and retaining the remainder in the channel. When the remainder would be
// dust the whole channel collapses into a single payout. The sender signs
// ANYONECANPAY|ALL and installs its bare signature as the unlocking
// script; the receiver completes and finalizes it.
func (w *Wallet) CreateCommitmentTx(p CommitmentParams) (string, error) {
	ch, err := script.ParseChannel(p.Redeem)
	if err != nil {
		return "", err
	}
	if p.PaySats <= 0 {
		return "", fmt.Errorf("payment must be positive, got %d sats", p.PaySats)
	}
	remainder := p.FundingSats - p.PaySats
	if remainder < 0 {
		return "", fmt.Errorf("%w: channel holds %d sats, payment wants %d",
			ErrInsufficientFunds, p.FundingSats, p.PaySats)
	}

	multiple := p.DustMultiple
	if multiple <= 0 {
		multiple = 1
	}
	txFee := p.TxFeeSats
	if txFee <= 0 {
		txFee = DefaultCommitmentFeeSats
	}
	dust := txFee * 3 * multiple

	receiverLock, err := script.PayToPubKeyHash(btcutil.Hash160(ch.ReceiverPubKey))
	if err != nil {
		return "", err
	}

	var txouts []*wire.TxOut
	switch {
	case remainder == 0 || remainder < dust:
		if remainder > 0 && p.RespectDustZone {
			return "", fmt.Errorf("%w: remainder %d sats is below the %d sat dust threshold",
				ErrDustZone, remainder, dust)
		}
		payout := p.FundingSats - 2*txFee
		if payout <= 0 {
			return "", fmt.Errorf("%w: channel cannot cover the %d sat closing fee",
				ErrInsufficientFunds, 2*txFee)
		}
		txouts = []*wire.TxOut{wire.NewTxOut(payout, receiverLock.Bytes())}
	default:
		retained := remainder - 3*txFee
		if retained <= 0 {
			return "", fmt.Errorf("%w: remainder %d sats cannot cover the %d sat fee",
				ErrInsufficientFunds, remainder, 3*txFee)
		}
		channelLock, err := script.PayToScriptHash(p.Redeem)
		if err != nil {
			return "", err
		}
		txouts = []*wire.TxOut{
			wire.NewTxOut(p.PaySats, receiverLock.Bytes()),
			wire.NewTxOut(retained, channelLock.Bytes()),
		}
	}

	hash, err := chainhash.NewHashFromStr(p.FundingTxID)
	if err != nil {
		return "", fmt.Errorf("invalid funding txid: %w", err)
	}
	tx := wire.NewMsgTx(txVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, p.FundingVout), nil, nil))
	for _, out := range txouts {
		tx.AddTxOut(out)
	}

	sig, err := w.channelSig(tx, 0, p.Redeem, txscript.SigHashAnyOneCanPay|txscript.SigHashAll)
	if err != nil {
		return "", err
	}
	sigScript, err := txscript.NewScriptBuilder().AddData(sig).Script()
	if err != nil {
		return "", err
	}
	tx.TxIn[0].SignatureScript = sigScript
	return SerializeTx(tx)
}

// FinalizeCommitmentTx is the receiver's side of a channel payment: it
// collects the sender's signature from the partial transaction, adds its
// own, and installs the full cooperative unlocking script
// [0, signatures in key order, 1, redeem]. The result is verified and
// ready to broadcast.
func (w *Wallet) FinalizeCommitmentTx(partialHex string, redeem script.Script) (*TxResult, error) {
	tx, err := DeserializeTx(partialHex)
	if err != nil {
		return nil, err
	}
	if len(tx.TxIn) != 1 {
		return nil, fmt.Errorf("%w: commitment must spend exactly the funding output", ErrScriptVerification)
	}

	var sigs [][]byte
	tok := txscript.MakeScriptTokenizer(0, tx.TxIn[0].SignatureScript)
	for tok.Next() {
		if data := tok.Data(); len(data) >= 9 {
			sig := make([]byte, len(data))
			copy(sig, data)
			sigs = append(sigs, sig)
		}
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("%w: partial unlocking script: %v", ErrScriptVerification, err)
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("%w: partial transaction carries no signature", ErrScriptVerification)
	}

	own, err := w.channelSig(tx, 0, redeem, txscript.SigHashAll)
	if err != nil {
		return nil, err
	}
	ordered, err := orderSignatures(tx, 0, redeem, append(sigs, own))
	if err != nil {
		return nil, err
	}

	b := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, s := range ordered {
		b.AddData(s)
	}
	b.AddOp(txscript.OP_1)
	b.AddData(redeem.Bytes())
	sigScript, err := b.Script()
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = sigScript

	lock, err := script.PayToScriptHash(redeem)
	if err != nil {
		return nil, err
	}
	if err := w.verifyInput(tx, 0, lock); err != nil {
		return nil, err
	}
	return w.finishTx(tx, 0)
}

// BuildTimeoutReclaimTx builds the sender's unilateral exit: once the
// channel timeout passes, the ELSE branch lets the sender sweep the
// funding output back to address. Renewable channels encode the timeout in
// the input sequence, non-renewable ones in the transaction locktime.
// A txFeeSats of zero budgets 2x DefaultCommitmentFeeSats, the same fee
// the commitment collapse branch pays for this one-input one-output shape.
func (w *Wallet) BuildTimeoutReclaimTx(redeem script.Script, fundingTxID string, fundingVout uint32, fundingSats int64, address string, txFeeSats int64) (*TxResult, error) {
	ch, err := script.ParseChannel(redeem)
	if err != nil {
		return nil, err
	}
	if err := w.checkDestination(address, fundingSats); err != nil {
		return nil, err
	}

	txFee := txFeeSats
	if txFee <= 0 {
		txFee = 2 * DefaultCommitmentFeeSats
	}
	payout := fundingSats - txFee
	if payout <= 0 {
		return nil, fmt.Errorf("%w: channel cannot cover the %d sat reclaim fee",
			ErrInsufficientFunds, txFee)
	}
	lockOut, err := script.PayToAddress(address, w.params)
	if err != nil {
		return nil, err
	}

	hash, err := chainhash.NewHashFromStr(fundingTxID)
	if err != nil {
		return nil, fmt.Errorf("invalid funding txid: %w", err)
	}
	tx := wire.NewMsgTx(txVersion)
	txin := wire.NewTxIn(wire.NewOutPoint(hash, fundingVout), nil, nil)
	if ch.Renewable {
		txin.Sequence = ch.ReclaimSequence()
	} else {
		tx.LockTime = uint32(ch.Timeout)
		txin.Sequence = wire.MaxTxInSequenceNum - 1
	}
	tx.AddTxIn(txin)
	tx.AddTxOut(wire.NewTxOut(payout, lockOut.Bytes()))

	sig, err := w.channelSig(tx, 0, redeem, txscript.SigHashAll)
	if err != nil {
		return nil, err
	}
	sigScript, err := txscript.NewScriptBuilder().
		AddData(sig).
		AddOp(txscript.OP_0).
		AddData(redeem.Bytes()).
		Script()
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = sigScript

	lock, err := script.PayToScriptHash(redeem)
	if err != nil {
		return nil, err
	}
	if err := w.verifyInput(tx, 0, lock); err != nil {
		return nil, err
	}
	return w.finishTx(tx, txFee)
}
