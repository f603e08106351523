// Package wallet implements the transaction engine: UTXO selection,
// assembly and signing of currency and asset transactions, the
// fee-delegation protocol, and unidirectional payment channels.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/SatoriNetwork/satori-lite/internal/backend"
	"github.com/SatoriNetwork/satori-lite/internal/chain"
	"github.com/SatoriNetwork/satori-lite/internal/config"
	"github.com/SatoriNetwork/satori-lite/internal/identity"
	"github.com/SatoriNetwork/satori-lite/internal/script"
	"github.com/SatoriNetwork/satori-lite/internal/storage"
	"github.com/SatoriNetwork/satori-lite/pkg/logging"
)

// Wallet builds, signs, and verifies transactions for one identity. The
// UTXO snapshot is guarded by a single mutex: one build at a time, so no
// unspent output enters two transactions.
type Wallet struct {
	mu sync.Mutex

	cfg      *config.Config
	params   *chain.Params
	identity identity.Identity
	backend  backend.Backend
	store    *storage.Storage
	log      *logging.Logger

	unspentCurrency []backend.UTXO
	unspentAssets   []backend.UTXO
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithBackend attaches a chain-query backend.
func WithBackend(b backend.Backend) Option {
	return func(w *Wallet) { w.backend = b }
}

// WithStorage attaches the persistent UTXO ledger.
func WithStorage(s *storage.Storage) Option {
	return func(w *Wallet) { w.store = s }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Wallet) { w.log = l }
}

// New creates a wallet for an identity. Without a backend the wallet can
// still build and sign from a snapshot set via SetUnspent.
func New(cfg *config.Config, id identity.Identity, opts ...Option) (*Wallet, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("wallet requires an identity")
	}
	w := &Wallet{
		cfg:      cfg,
		params:   cfg.Params(),
		identity: id,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logging.GetDefault().Component("wallet")
	}
	return w, nil
}

// Address returns the wallet's P2PKH address.
func (w *Wallet) Address() string {
	return w.params.PubKeyToAddress(w.identity.PubKey())
}

// PubKey returns the wallet's compressed public key.
func (w *Wallet) PubKey() []byte {
	return w.identity.PubKey()
}

// lockingScript returns the wallet's own P2PKH locking script.
func (w *Wallet) lockingScript() (script.Script, error) {
	h160, err := w.params.AddressToPubKeyHash(w.Address())
	if err != nil {
		return nil, err
	}
	return script.PayToPubKeyHash(h160)
}

// ScriptHash returns the electrum-style script hash of the wallet's
// locking script, the key used to query the backend for unspents.
func (w *Wallet) ScriptHash() (string, error) {
	lock, err := w.lockingScript()
	if err != nil {
		return "", err
	}
	return backend.ScriptHash(lock.Bytes()), nil
}

// SetUnspent replaces the wallet's UTXO snapshot. Used by tests and by
// callers that track unspents themselves.
func (w *Wallet) SetUnspent(currency, assets []backend.UTXO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unspentCurrency = append([]backend.UTXO(nil), currency...)
	w.unspentAssets = append([]backend.UTXO(nil), assets...)
}

// Refresh reloads the UTXO snapshot from the backend and mirrors it into
// the persistent ledger when one is attached.
func (w *Wallet) Refresh(ctx context.Context) error {
	if w.backend == nil {
		return ErrNoBackend
	}
	scriptHash, err := w.ScriptHash()
	if err != nil {
		return err
	}
	utxos, err := w.backend.ListUnspent(ctx, scriptHash)
	if err != nil {
		return fmt.Errorf("list unspent: %w", err)
	}

	var currency, assets []backend.UTXO
	for _, u := range utxos {
		if u.Asset == "" {
			currency = append(currency, u)
		} else if u.Asset == w.cfg.Asset {
			assets = append(assets, u)
		}
	}

	w.mu.Lock()
	w.unspentCurrency = currency
	w.unspentAssets = assets
	w.mu.Unlock()

	if w.store != nil {
		for _, u := range utxos {
			status := storage.UTXOStatusUnconfirmed
			if u.Confirmations > 0 {
				status = storage.UTXOStatusConfirmed
			}
			if err := w.store.SaveUTXO(&storage.UTXO{
				TxID:          u.TxID,
				Vout:          u.Vout,
				Amount:        u.Amount,
				Asset:         u.Asset,
				ScriptPubKey:  u.ScriptPubKey,
				Status:        status,
				Confirmations: u.Confirmations,
				BlockHeight:   u.BlockHeight,
			}); err != nil {
				return fmt.Errorf("persist utxo %s: %w", u.Outpoint(), err)
			}
		}
	}

	w.log.Debug("refreshed unspents",
		"currency", len(currency), "assets", len(assets))
	return nil
}

// ResolveScripts fills in missing locking scripts in the snapshot by
// resolving each UTXO's source transaction through the backend.
func (w *Wallet) ResolveScripts(ctx context.Context) error {
	if w.backend == nil {
		return ErrNoBackend
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	resolve := func(utxos []backend.UTXO) error {
		for i := range utxos {
			if utxos[i].ScriptPubKey != "" {
				continue
			}
			tx, err := w.backend.GetTransaction(ctx, utxos[i].TxID)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", utxos[i].TxID, err)
			}
			if int(utxos[i].Vout) >= len(tx.Outputs) {
				return fmt.Errorf("resolve %s: vout %d out of range", utxos[i].TxID, utxos[i].Vout)
			}
			utxos[i].ScriptPubKey = tx.Outputs[utxos[i].Vout].ScriptPubKey
		}
		return nil
	}
	if err := resolve(w.unspentCurrency); err != nil {
		return err
	}
	return resolve(w.unspentAssets)
}

// Balance returns the snapshot's currency balance in sats.
func (w *Wallet) Balance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, u := range w.unspentCurrency {
		total += u.Amount
	}
	return total
}

// AssetBalance returns the snapshot's asset balance in asset sats.
func (w *Wallet) AssetBalance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, u := range w.unspentAssets {
		total += u.Amount
	}
	return total
}

// Broadcast submits a raw transaction through the backend and marks its
// inputs pending in the ledger.
func (w *Wallet) Broadcast(ctx context.Context, txHex string) (string, error) {
	if w.backend == nil {
		return "", ErrNoBackend
	}
	txid, err := w.backend.Broadcast(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	w.log.Info("broadcast transaction", "txid", txid)
	return txid, nil
}

func (w *Wallet) feeRate() int64 {
	return w.cfg.Fees.Rate
}
