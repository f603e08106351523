package wallet

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/SatoriNetwork/satori-lite/internal/backend"
	"github.com/SatoriNetwork/satori-lite/internal/script"
	"github.com/SatoriNetwork/satori-lite/internal/txutil"
)

// txVersion is used for every transaction the wallet builds. Version 2
// unlocks BIP 68 relative locktime semantics for channel reclaims.
const txVersion = 2

// TxResult is a fully assembled, signed, and verified transaction.
type TxResult struct {
	Tx      *wire.MsgTx
	TxHex   string
	TxID    string
	FeeSats int64
}

// compileInputs turns UTXOs into transaction inputs paired with the
// locking scripts their signatures commit to. The script is taken from the
// snapshot when resolved; otherwise it is the wallet's own P2PKH script,
// tagged for asset inputs.
func (w *Wallet) compileInputs(utxos []backend.UTXO) ([]*wire.TxIn, []script.Script, error) {
	var (
		txins   []*wire.TxIn
		scripts []script.Script
	)
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid txid %s: %w", u.TxID, err)
		}
		txins = append(txins, wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))

		var lock script.Script
		if u.ScriptPubKey != "" {
			lock, err = script.FromHex(u.ScriptPubKey)
			if err != nil {
				return nil, nil, fmt.Errorf("utxo %s: %w", u.Outpoint(), err)
			}
		} else {
			lock, err = w.lockingScript()
			if err != nil {
				return nil, nil, err
			}
			if u.Asset != "" {
				lock, err = script.AppendAssetTag(lock, w.params, u.Asset, u.Amount)
				if err != nil {
					return nil, nil, err
				}
			}
		}
		scripts = append(scripts, lock)
	}
	return txins, scripts, nil
}

// compileCurrencyOutput builds a plain currency output.
func (w *Wallet) compileCurrencyOutput(address string, sats int64) (*wire.TxOut, error) {
	lock, err := script.PayToAddress(address, w.params)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(sats, lock.Bytes()), nil
}

// compileAssetOutput builds a zero-value output whose asset tag carries the
// transfer quantity.
func (w *Wallet) compileAssetOutput(address string, assetSats int64) (*wire.TxOut, error) {
	base, err := script.PayToAddress(address, w.params)
	if err != nil {
		return nil, err
	}
	tagged, err := script.AppendAssetTag(base, w.params, w.cfg.Asset, assetSats)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(0, tagged.Bytes()), nil
}

// compileAssetChangeOutput returns the wallet's asset change output, nil
// when the gathered quantity matches the spend exactly.
func (w *Wallet) compileAssetChangeOutput(spendSats, gatheredSats int64) (*wire.TxOut, error) {
	change := gatheredSats - spendSats
	if change < 0 {
		return nil, fmt.Errorf("%w: gathered %d %s sats for a %d sat spend",
			ErrInsufficientFunds, gatheredSats, w.cfg.Asset, spendSats)
	}
	if change == 0 {
		return nil, nil
	}
	return w.compileAssetOutput(w.Address(), change)
}

// compileCurrencyChangeOutput returns the currency change output after the
// fee for the final transaction shape, nil when nothing remains.
func (w *Wallet) compileCurrencyChangeOutput(spendSats, gatheredSats int64, inputCount, outputCount int, address string) (*wire.TxOut, int64, error) {
	fee := w.estimateFee(inputCount, outputCount)
	change := gatheredSats - spendSats - fee
	if change < 0 {
		return nil, fee, fmt.Errorf("%w: gathered %d sats, spend %d plus fee %d",
			ErrInsufficientFunds, gatheredSats, spendSats, fee)
	}
	if change == 0 {
		return nil, fee, nil
	}
	out, err := w.compileCurrencyOutput(address, change)
	return out, fee, err
}

// compileMemoOutput builds a data-carrier output for a memo. An empty memo
// produces no output.
func (w *Wallet) compileMemoOutput(memo string) (*wire.TxOut, error) {
	if memo == "" {
		return nil, nil
	}
	lock, err := script.NullData([]byte(memo))
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(0, lock.Bytes()), nil
}

func (w *Wallet) estimateFee(inputCount, outputCount int) int64 {
	return int64(inputCount+outputCount) * w.feeRate()
}

func newTx(txins []*wire.TxIn, txouts []*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(txVersion)
	for _, in := range txins {
		tx.AddTxIn(in)
	}
	for _, out := range txouts {
		tx.AddTxOut(out)
	}
	return tx
}

// signInput signs input idx and installs its unlocking script. For P2SH
// spends the signature commits to the redeem script; cosignerSigs carries
// signatures collected from other parties, each with its own sighash flag
// appended.
func (w *Wallet) signInput(tx *wire.MsgTx, idx int, lock script.Script, hashType txscript.SigHashType, redeem script.Script, cosignerSigs [][]byte) error {
	execScript := lock
	if redeem != nil {
		execScript = redeem
	}
	digest, err := txscript.CalcSignatureHash(execScript.Bytes(), hashType, tx, idx)
	if err != nil {
		return fmt.Errorf("sighash input %d: %w", idx, err)
	}
	der, err := w.identity.SignHash(digest)
	if err != nil {
		return fmt.Errorf("sign input %d: %w", idx, err)
	}
	sig := append(der, byte(hashType))

	var sigScript []byte
	switch {
	case redeem == nil:
		sigScript, err = txscript.NewScriptBuilder().
			AddData(sig).
			AddData(w.identity.PubKey()).
			Script()
	case len(cosignerSigs) == 0 && len(script.RedeemPubKeys(redeem)) <= 1:
		sigScript, err = txscript.NewScriptBuilder().
			AddData(sig).
			AddData(redeem.Bytes()).
			Script()
	default:
		ordered, oerr := orderSignatures(tx, idx, redeem, append(cosignerSigs, sig))
		if oerr != nil {
			return oerr
		}
		b := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, s := range ordered {
			b.AddData(s)
		}
		b.AddData(redeem.Bytes())
		sigScript, err = b.Script()
	}
	if err != nil {
		return fmt.Errorf("unlocking script input %d: %w", idx, err)
	}
	tx.TxIn[idx].SignatureScript = sigScript
	return w.verifyInput(tx, idx, lock)
}

// orderSignatures arranges collected signatures in the order of the redeem
// script's public keys, verifying each against the key it claims. A
// signature matching no key fails the build rather than producing an
// unspendable script.
func orderSignatures(tx *wire.MsgTx, idx int, redeem script.Script, sigs [][]byte) ([][]byte, error) {
	keys := script.RedeemPubKeys(redeem)
	used := make([]bool, len(sigs))
	ordered := make([][]byte, 0, len(sigs))
	for _, keyBytes := range keys {
		pub, err := btcec.ParsePubKey(keyBytes)
		if err != nil {
			continue
		}
		for i, sigBytes := range sigs {
			if used[i] || len(sigBytes) < 9 {
				continue
			}
			hashType := txscript.SigHashType(sigBytes[len(sigBytes)-1])
			parsed, err := ecdsa.ParseDERSignature(sigBytes[:len(sigBytes)-1])
			if err != nil {
				continue
			}
			digest, err := txscript.CalcSignatureHash(redeem.Bytes(), hashType, tx, idx)
			if err != nil {
				continue
			}
			if parsed.Verify(digest, pub) {
				ordered = append(ordered, sigBytes)
				used[i] = true
				break
			}
		}
	}
	for i, u := range used {
		if !u {
			return nil, fmt.Errorf("%w: signature %d matches no redeem script key", ErrScriptVerification, i)
		}
	}
	return ordered, nil
}

// verifyInput runs the script engine over a signed input. The only
// tolerated failure is execution reaching the asset marker opcode, which
// plain engines reject as a reserved opcode but asset-aware chains accept:
// the signature checks precede the marker, so they have already passed.
// Every other failure (a bad signature, a key-hash mismatch) is fatal even
// on tagged locks.
func (w *Wallet) verifyInput(tx *wire.MsgTx, idx int, lock script.Script) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(lock.Bytes(), 0)
	vm, err := txscript.NewEngine(lock.Bytes(), tx, idx, txscript.ScriptBip16, nil, nil, 0, fetcher)
	if err == nil {
		err = vm.Execute()
	}
	if err != nil {
		if txscript.IsErrorCode(err, txscript.ErrReservedOpcode) && script.HasAssetMarker(lock) {
			return nil
		}
		return fmt.Errorf("%w: input %d: %v", ErrScriptVerification, idx, err)
	}
	return nil
}

// createTransaction signs every input with SIGHASH_ALL, verifies, and
// serializes.
func (w *Wallet) createTransaction(txins []*wire.TxIn, scripts []script.Script, txouts []*wire.TxOut) (*wire.MsgTx, error) {
	tx := newTx(txins, txouts)
	for i := range txins {
		if err := w.signInput(tx, i, scripts[i], txscript.SigHashAll, nil, nil); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// createPartialOriginator signs every input with
// SIGHASH_ANYONECANPAY|SIGHASH_ALL: the outputs are fixed but a second
// party may append its own inputs.
func (w *Wallet) createPartialOriginator(txins []*wire.TxIn, scripts []script.Script, txouts []*wire.TxOut) (*wire.MsgTx, error) {
	tx := newTx(txins, txouts)
	hashType := txscript.SigHashAnyOneCanPay | txscript.SigHashAll
	for i := range txins {
		if err := w.signInput(tx, i, scripts[i], hashType, nil, nil); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// completePartial appends the wallet's own inputs to a partially signed
// transaction and signs only them, leaving the originator's signatures
// untouched.
func (w *Wallet) completePartial(tx *wire.MsgTx, txins []*wire.TxIn, scripts []script.Script) error {
	start := len(tx.TxIn)
	for _, in := range txins {
		tx.AddTxIn(in)
	}
	hashType := txscript.SigHashAnyOneCanPay | txscript.SigHashAll
	for i := range txins {
		if err := w.signInput(tx, start+i, scripts[i], hashType, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// SerializeTx renders a transaction as hex.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeTx parses a hex-encoded transaction.
func DeserializeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(txVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}
	return tx, nil
}

func (w *Wallet) finishTx(tx *wire.MsgTx, feeSats int64) (*TxResult, error) {
	txHex, err := SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	txid, err := txutil.TxIDFromHex(txHex)
	if err != nil {
		return nil, err
	}
	return &TxResult{
		Tx:      tx,
		TxHex:   txHex,
		TxID:    txid,
		FeeSats: feeSats,
	}, nil
}
