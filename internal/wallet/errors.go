package wallet

import (
	"errors"
	"fmt"
)

// Wallet errors. Fee-delegation rejections all wrap ErrFeeDelegation so
// completer callers can match the family with errors.Is while logging the
// specific check that failed.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrScriptVerification = errors.New("script verification failed")
	ErrBroadcast          = errors.New("broadcast failed")
	ErrNoBackend          = errors.New("no chain backend configured")
	ErrDustZone           = errors.New("commitment remainder in dust zone")

	ErrFeeDelegation         = errors.New("fee delegation rejected")
	ErrFeeMismatch           = fmt.Errorf("%w: reported fee mismatch", ErrFeeDelegation)
	ErrClaimMismatch         = fmt.Errorf("%w: fee claim mismatch", ErrFeeDelegation)
	ErrClaimAddressMismatch  = fmt.Errorf("%w: claim address mismatch", ErrFeeDelegation)
	ErrChangeAddressMismatch = fmt.Errorf("%w: change address mismatch", ErrFeeDelegation)
	ErrReservedUTXONotFound  = fmt.Errorf("%w: reserved utxo not found", ErrFeeDelegation)
)
