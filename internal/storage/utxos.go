package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UTXOStatus represents the status of a UTXO.
type UTXOStatus string

const (
	UTXOStatusUnconfirmed  UTXOStatus = "unconfirmed"
	UTXOStatusConfirmed    UTXOStatus = "confirmed"
	UTXOStatusPendingSpend UTXOStatus = "pending_spend"
	UTXOStatusSpent        UTXOStatus = "spent"
)

// UTXO is a persisted unspent output. Asset is empty for native currency;
// for tagged outputs Amount is the asset quantity.
type UTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Amount int64  `json:"amount"`
	Asset  string `json:"asset,omitempty"`

	ScriptPubKey string `json:"script_pubkey,omitempty"`

	Status        UTXOStatus `json:"status"`
	Confirmations int64      `json:"confirmations"`
	BlockHeight   int64      `json:"block_height,omitempty"`

	SpentTxID string `json:"spent_txid,omitempty"`
	SpentAt   int64  `json:"spent_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// SaveUTXO saves or updates a UTXO.
func (s *Storage) SaveUTXO(utxo *UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if utxo.CreatedAt == 0 {
		utxo.CreatedAt = now
	}
	utxo.UpdatedAt = now
	if utxo.Status == "" {
		utxo.Status = UTXOStatusUnconfirmed
	}

	query := `
		INSERT INTO utxos (
			txid, vout, amount, asset, script_pubkey, status,
			confirmations, block_height, spent_txid, spent_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid, vout) DO UPDATE SET
			script_pubkey = excluded.script_pubkey,
			status = excluded.status,
			confirmations = excluded.confirmations,
			block_height = excluded.block_height,
			spent_txid = excluded.spent_txid,
			spent_at = excluded.spent_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		utxo.TxID, utxo.Vout, utxo.Amount, utxo.Asset, utxo.ScriptPubKey, utxo.Status,
		utxo.Confirmations, utxo.BlockHeight, utxo.SpentTxID, utxo.SpentAt,
		utxo.CreatedAt, utxo.UpdatedAt,
	)
	return err
}

// GetUTXO retrieves a UTXO by outpoint.
func (s *Storage) GetUTXO(txid string, vout uint32) (*UTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectUTXO + ` WHERE txid = ? AND vout = ?`
	return scanUTXO(s.db.QueryRow(query, txid, vout))
}

// SpendableUTXOs returns confirmed, unspent UTXOs for an asset (empty asset
// selects native currency), smallest first.
func (s *Storage) SpendableUTXOs(asset string) ([]*UTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectUTXO + `
		WHERE asset = ? AND status = ?
		ORDER BY amount ASC, txid ASC, vout ASC
	`
	return s.queryUTXOs(query, asset, UTXOStatusConfirmed)
}

// MarkPendingSpend marks a UTXO as entering a transaction build. A UTXO in
// pending_spend is excluded from selection, so no outpoint joins two
// concurrent builds.
func (s *Storage) MarkPendingSpend(txid string, vout uint32, spendTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `
		UPDATE utxos
		SET status = ?, spent_txid = ?, updated_at = ?
		WHERE txid = ? AND vout = ? AND status = ?
	`
	result, err := s.db.Exec(query, UTXOStatusPendingSpend, spendTxID, now, txid, vout, UTXOStatusConfirmed)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("UTXO not spendable: %s:%d", txid, vout)
	}
	return nil
}

// MarkSpent marks a UTXO as spent on chain.
func (s *Storage) MarkSpent(txid string, vout uint32, spendTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `
		UPDATE utxos
		SET status = ?, spent_txid = ?, spent_at = ?, updated_at = ?
		WHERE txid = ? AND vout = ?
	`
	result, err := s.db.Exec(query, UTXOStatusSpent, spendTxID, now, now, txid, vout)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("UTXO not found: %s:%d", txid, vout)
	}
	return nil
}

// RevertPendingSpend returns a pending-spend UTXO to confirmed after a
// failed build or broadcast.
func (s *Storage) RevertPendingSpend(txid string, vout uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `
		UPDATE utxos
		SET status = ?, spent_txid = NULL, updated_at = ?
		WHERE txid = ? AND vout = ? AND status = ?
	`
	_, err := s.db.Exec(query, UTXOStatusConfirmed, now, txid, vout, UTXOStatusPendingSpend)
	return err
}

// Balance returns the confirmed balance for an asset (empty asset selects
// native currency).
func (s *Storage) Balance(asset string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM utxos
		WHERE asset = ? AND status = ?
	`
	var total int64
	err := s.db.QueryRow(query, asset, UTXOStatusConfirmed).Scan(&total)
	return total, err
}

// DeleteSpentUTXOs removes spent UTXOs older than the given duration.
func (s *Storage) DeleteSpentUTXOs(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	result, err := s.db.Exec(`DELETE FROM utxos WHERE status = ? AND spent_at < ?`, UTXOStatusSpent, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =============================================================================
// Fee reservations
// =============================================================================

// FeeReservation pins one currency UTXO, by exact value, for one
// fee-delegation originator.
type FeeReservation struct {
	ID            string `json:"id"`
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        int64  `json:"amount"`
	ChangeAddress string `json:"change_address"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
}

// Reservation statuses.
const (
	ReservationStatusReserved = "reserved"
	ReservationStatusSpent    = "spent"
	ReservationStatusReleased = "released"
)

// ReserveFeeUTXO picks the smallest spendable currency UTXO worth at least
// minSats, excludes it from further selection, and records the reservation.
func (s *Storage) ReserveFeeUTXO(minSats int64, changeAddress string) (*FeeReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var r FeeReservation
	err = tx.QueryRow(`
		SELECT txid, vout, amount FROM utxos
		WHERE asset = '' AND status = ? AND amount >= ?
		ORDER BY amount ASC, txid ASC, vout ASC
		LIMIT 1
	`, UTXOStatusConfirmed, minSats).Scan(&r.TxID, &r.Vout, &r.Amount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no spendable currency UTXO of at least %d sats", minSats)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if _, err := tx.Exec(`
		UPDATE utxos SET status = ?, updated_at = ? WHERE txid = ? AND vout = ?
	`, UTXOStatusPendingSpend, now, r.TxID, r.Vout); err != nil {
		return nil, err
	}

	r.ID = uuid.NewString()
	r.ChangeAddress = changeAddress
	r.Status = ReservationStatusReserved
	r.CreatedAt = now
	if _, err := tx.Exec(`
		INSERT INTO fee_reservations (id, txid, vout, amount, change_address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TxID, r.Vout, r.Amount, r.ChangeAddress, r.Status, now, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetFeeReservation retrieves a reservation by id.
func (s *Storage) GetFeeReservation(id string) (*FeeReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r FeeReservation
	err := s.db.QueryRow(`
		SELECT id, txid, vout, amount, change_address, status, created_at
		FROM fee_reservations WHERE id = ?
	`, id).Scan(&r.ID, &r.TxID, &r.Vout, &r.Amount, &r.ChangeAddress, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindFeeReservationByValue locates an open reservation whose UTXO value is
// exactly sats.
func (s *Storage) FindFeeReservationByValue(sats int64) (*FeeReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r FeeReservation
	err := s.db.QueryRow(`
		SELECT id, txid, vout, amount, change_address, status, created_at
		FROM fee_reservations WHERE amount = ? AND status = ?
		ORDER BY created_at ASC LIMIT 1
	`, sats, ReservationStatusReserved).Scan(&r.ID, &r.TxID, &r.Vout, &r.Amount, &r.ChangeAddress, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ConsumeFeeReservation marks a reservation and its UTXO spent.
func (s *Storage) ConsumeFeeReservation(id, spendTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	var txid string
	var vout uint32
	err = tx.QueryRow(`SELECT txid, vout FROM fee_reservations WHERE id = ? AND status = ?`,
		id, ReservationStatusReserved).Scan(&txid, &vout)
	if err == sql.ErrNoRows {
		return fmt.Errorf("fee reservation %s not open", id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE fee_reservations SET status = ?, updated_at = ? WHERE id = ?`,
		ReservationStatusSpent, now, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE utxos SET status = ?, spent_txid = ?, spent_at = ?, updated_at = ? WHERE txid = ? AND vout = ?`,
		UTXOStatusSpent, spendTxID, now, now, txid, vout); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseFeeReservation returns a reservation's UTXO to the spendable set.
func (s *Storage) ReleaseFeeReservation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	var txid string
	var vout uint32
	err = tx.QueryRow(`SELECT txid, vout FROM fee_reservations WHERE id = ? AND status = ?`,
		id, ReservationStatusReserved).Scan(&txid, &vout)
	if err == sql.ErrNoRows {
		return fmt.Errorf("fee reservation %s not open", id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE fee_reservations SET status = ?, updated_at = ? WHERE id = ?`,
		ReservationStatusReleased, now, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE utxos SET status = ?, updated_at = ? WHERE txid = ? AND vout = ? AND status = ?`,
		UTXOStatusConfirmed, now, txid, vout, UTXOStatusPendingSpend); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Helpers
// =============================================================================

const selectUTXO = `
	SELECT txid, vout, amount, asset, script_pubkey, status,
		   confirmations, block_height, spent_txid, spent_at,
		   created_at, updated_at
	FROM utxos
`

func scanUTXO(row *sql.Row) (*UTXO, error) {
	var utxo UTXO
	var scriptPubKey, spentTxID sql.NullString
	var blockHeight, spentAt sql.NullInt64

	err := row.Scan(
		&utxo.TxID, &utxo.Vout, &utxo.Amount, &utxo.Asset, &scriptPubKey, &utxo.Status,
		&utxo.Confirmations, &blockHeight, &spentTxID, &spentAt,
		&utxo.CreatedAt, &utxo.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	utxo.ScriptPubKey = scriptPubKey.String
	utxo.SpentTxID = spentTxID.String
	utxo.BlockHeight = blockHeight.Int64
	utxo.SpentAt = spentAt.Int64
	return &utxo, nil
}

func (s *Storage) queryUTXOs(query string, args ...interface{}) ([]*UTXO, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []*UTXO
	for rows.Next() {
		var utxo UTXO
		var scriptPubKey, spentTxID sql.NullString
		var blockHeight, spentAt sql.NullInt64

		err := rows.Scan(
			&utxo.TxID, &utxo.Vout, &utxo.Amount, &utxo.Asset, &scriptPubKey, &utxo.Status,
			&utxo.Confirmations, &blockHeight, &spentTxID, &spentAt,
			&utxo.CreatedAt, &utxo.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		utxo.ScriptPubKey = scriptPubKey.String
		utxo.SpentTxID = spentTxID.String
		utxo.BlockHeight = blockHeight.Int64
		utxo.SpentAt = spentAt.Int64
		utxos = append(utxos, &utxo)
	}

	return utxos, rows.Err()
}
