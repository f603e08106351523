package wallet

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SatoriNetwork/satori-lite/internal/backend"
	"github.com/SatoriNetwork/satori-lite/internal/script"
	"github.com/SatoriNetwork/satori-lite/internal/storage"
)

const reservedFeeSats = 2_000_000

// delegationPair returns an originator holding only the asset and a
// completer holding one currency UTXO of exactly the reserved value.
func delegationPair(t *testing.T, assetSats int64) (originator, completer *Wallet) {
	t.Helper()
	originator = testWallet(t, 0x0a)
	originator.SetUnspent(nil, []backend.UTXO{assetUTXO("aa", 0, assetSats)})

	completer = testWallet(t, 0x0b)
	completer.SetUnspent([]backend.UTXO{currencyUTXO("bb", 0, reservedFeeSats)}, nil)
	return originator, completer
}

func TestAssetPartialSend(t *testing.T) {
	// Exactly the transfer plus the mundo fee: no asset change output.
	originator, completer := delegationPair(t, 50_010_000)
	addr := recipientAddress(originator, 0x99)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          addr,
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	// Transfer, claim, currency change. The originator contributes no
	// currency input.
	require.Len(t, res.Tx.TxIn, 1)
	require.Len(t, res.Tx.TxOut, 3)
	require.Equal(t, int64(2+3)*originator.feeRate(), res.ReportedFeeSats)

	transfer, ok, err := script.ParseAssetTag(script.Script(res.Tx.TxOut[0].PkScript))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(50_000_000), transfer.Sats)

	claim, ok, err := script.ParseAssetTag(script.Script(res.Tx.TxOut[1].PkScript))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, originator.cfg.MundoFeeSats(), claim.Sats)

	// The completer's change is the last output and accounts for exactly
	// the reported fee.
	changeOut := res.Tx.TxOut[2]
	require.Equal(t, reservedFeeSats-res.ReportedFeeSats, changeOut.Value)
}

func TestAssetPartialSendPullFeeFromAmount(t *testing.T) {
	originator, completer := delegationPair(t, 50_000_000)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:         50_000_000,
		Address:           recipientAddress(originator, 0x99),
		PullFeeFromAmount: true,
		FeeSatsReserved:   reservedFeeSats,
		CompleterAddress:  completer.Address(),
		ChangeAddress:     completer.Address(),
	})
	require.NoError(t, err)

	transfer, ok, err := script.ParseAssetTag(script.Script(res.Tx.TxOut[0].PkScript))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 50_000_000-originator.cfg.MundoFeeSats(), transfer.Sats)
}

func TestAssetPartialSendErrors(t *testing.T) {
	originator, completer := delegationPair(t, 50_010_000)
	addr := recipientAddress(originator, 0x99)

	// Reserved fee below the reported fee.
	_, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          addr,
		FeeSatsReserved:  100,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Not enough of the asset.
	_, err = originator.AssetPartialSend(PartialSendParams{
		AssetSats:        90_000_000,
		Address:          addr,
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Completer address must decode.
	_, err = originator.AssetPartialSend(PartialSendParams{
		AssetSats:        1_000_000,
		Address:          addr,
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: "garbage",
		ChangeAddress:    completer.Address(),
	})
	require.Error(t, err)
}

func TestCompletePartial(t *testing.T) {
	originator, completer := delegationPair(t, 50_010_000)
	addr := recipientAddress(originator, 0x99)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          addr,
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	result, err := completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   completer.Address(),
	})
	require.NoError(t, err)

	// The completer appended its reserved input; the originator's
	// signature and outputs are untouched.
	require.Len(t, result.Tx.TxIn, 2)
	require.Len(t, result.Tx.TxOut, 3)
	require.Equal(t, res.Tx.TxIn[0].SignatureScript, result.Tx.TxIn[0].SignatureScript)
	require.Equal(t, res.ReportedFeeSats, result.FeeSats)
}

func TestCompletePartialFeeMismatch(t *testing.T) {
	originator, completer := delegationPair(t, 50_010_000)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          recipientAddress(originator, 0x99),
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	// A reported fee the change output does not account for.
	_, err = completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: res.ReportedFeeSats + 1,
		ChangeAddress:   completer.Address(),
	})
	require.ErrorIs(t, err, ErrFeeMismatch)
	require.ErrorIs(t, err, ErrFeeDelegation)

	// A reported fee at the absolute ceiling is refused outright.
	_, err = completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: completer.cfg.MaxReportedFeeSats(),
		ChangeAddress:   completer.Address(),
	})
	require.ErrorIs(t, err, ErrFeeMismatch)
}

func TestCompletePartialClaimMismatch(t *testing.T) {
	// An originator configured with a smaller mundo fee underpays the
	// completer's claim.
	originator := testWallet(t, 0x0a)
	originator.cfg.Delegation.MundoFee = "0.00005"
	originator.SetUnspent(nil, []backend.UTXO{assetUTXO("aa", 0, 50_010_000)})

	completer := testWallet(t, 0x0b)
	completer.SetUnspent([]backend.UTXO{currencyUTXO("bb", 0, reservedFeeSats)}, nil)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          recipientAddress(originator, 0x99),
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	_, err = completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   completer.Address(),
	})
	require.ErrorIs(t, err, ErrClaimMismatch)
}

func TestCompletePartialClaimAddressMismatch(t *testing.T) {
	originator, completer := delegationPair(t, 50_010_000)

	// A third wallet tries to complete a partial addressed to the real
	// completer.
	interloper := testWallet(t, 0x0c)
	interloper.SetUnspent([]backend.UTXO{currencyUTXO("cc", 0, reservedFeeSats)}, nil)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          recipientAddress(originator, 0x99),
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	_, err = interloper.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   completer.Address(),
	})
	require.ErrorIs(t, err, ErrClaimAddressMismatch)
}

func TestCompletePartialChangeAddressMismatch(t *testing.T) {
	originator, completer := delegationPair(t, 50_010_000)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          recipientAddress(originator, 0x99),
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	_, err = completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   recipientAddress(completer, 0x77),
	})
	require.ErrorIs(t, err, ErrChangeAddressMismatch)
}

func TestCompletePartialReservedUTXONotFound(t *testing.T) {
	originator, completer := delegationPair(t, 50_010_000)

	res, err := originator.AssetPartialSend(PartialSendParams{
		AssetSats:        50_000_000,
		Address:          recipientAddress(originator, 0x99),
		FeeSatsReserved:  reservedFeeSats,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	// The completer's reserved output has vanished from its snapshot.
	completer.SetUnspent(nil, nil)

	_, err = completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: reservedFeeSats,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   completer.Address(),
	})
	require.ErrorIs(t, err, ErrReservedUTXONotFound)
}

func TestSweepPartial(t *testing.T) {
	originator, completer := delegationPair(t, 80_000_000)

	res, err := originator.SweepPartial(recipientAddress(originator, 0x99),
		reservedFeeSats, completer.Address(), completer.Address())
	require.NoError(t, err)

	// The whole balance moves, minus the mundo fee.
	transfer, ok, err := script.ParseAssetTag(script.Script(res.Tx.TxOut[0].PkScript))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 80_000_000-originator.cfg.MundoFeeSats(), transfer.Sats)
}

func TestBridgePartialSend(t *testing.T) {
	// The asset inputs cover the transfer, the mundo fee, and the bridge
	// fee, with nothing left over: no asset change output.
	originator, completer := delegationPair(t, 51_010_000)
	const ethAddress = "0x52e9c0b61d49ad156e89f06ff67e1a48f6e3d1d1"

	res, err := originator.BridgePartialSend(BridgePartialParams{
		AssetSats:        50_000_000,
		EthAddress:       ethAddress,
		FeeSatsReserved:  3_000_000,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	// Burn transfer, claim, bridge fee, currency change, memo.
	require.Len(t, res.Tx.TxOut, 5)
	require.Equal(t, int64(2+5)*originator.feeRate(), res.ReportedFeeSats)

	burnH160, err := originator.params.AddressToPubKeyHash(originator.params.BurnAddress)
	require.NoError(t, err)
	gotH160, err := script.ExtractPubKeyHash(script.Script(res.Tx.TxOut[0].PkScript))
	require.NoError(t, err)
	require.Equal(t, burnH160, gotH160)

	// The bridge fee is an asset payment to the bridge address, not a
	// currency output.
	bridgeOut := res.Tx.TxOut[2]
	bridgeTag, ok, err := script.ParseAssetTag(script.Script(bridgeOut.PkScript))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, originator.cfg.Asset, bridgeTag.Name)
	require.Equal(t, originator.cfg.BridgeFeeSats(), bridgeTag.Sats)
	bridgeH160, err := script.ExtractPubKeyHash(script.Script(bridgeOut.PkScript))
	require.NoError(t, err)
	require.Equal(t, originator.params.BridgeAddress, originator.params.PubKeyHashToAddress(bridgeH160))

	// The completer's change accounts for exactly the reported fee: the
	// bridge fee rides in the asset and never touches the reservation.
	changeOut := res.Tx.TxOut[3]
	require.Equal(t, 3_000_000-res.ReportedFeeSats, changeOut.Value)

	memoOut := res.Tx.TxOut[4]
	require.Equal(t, byte(0x6a), memoOut.PkScript[0])
	require.True(t, strings.Contains(string(memoOut.PkScript), "ethereum:"+ethAddress))

	// The completer accepts it under the bridge layout.
	completer.SetUnspent([]backend.UTXO{currencyUTXO("bb", 0, 3_000_000)}, nil)
	result, err := completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: 3_000_000,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   completer.Address(),
		Bridge:          true,
	})
	require.NoError(t, err)
	require.Len(t, result.Tx.TxIn, 2)
}

func TestBridgePartialSendErrors(t *testing.T) {
	originator, completer := delegationPair(t, 51_010_000)

	// Malformed destination address.
	_, err := originator.BridgePartialSend(BridgePartialParams{
		AssetSats:        1_000_000,
		EthAddress:       "52e9c0b61d49ad156e89f06ff67e1a48f6e3d1d1",
		FeeSatsReserved:  3_000_000,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.Error(t, err)

	// Over the bridge cap.
	_, err = originator.BridgePartialSend(BridgePartialParams{
		AssetSats:        originator.cfg.MaxBridgeAmountSats() + 1,
		EthAddress:       "0x52e9c0b61d49ad156e89f06ff67e1a48f6e3d1d1",
		FeeSatsReserved:  3_000_000,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.Error(t, err)

	// Holding the transfer and the mundo fee is not enough: the bridge
	// fee must also come out of the asset inputs.
	short, _ := delegationPair(t, 50_010_000)
	_, err = short.BridgePartialSend(BridgePartialParams{
		AssetSats:        50_000_000,
		EthAddress:       "0x52e9c0b61d49ad156e89f06ff67e1a48f6e3d1d1",
		FeeSatsReserved:  3_000_000,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCompletePartialBridgeFeeMismatch(t *testing.T) {
	originator, completer := delegationPair(t, 51_010_000)

	res, err := originator.BridgePartialSend(BridgePartialParams{
		AssetSats:        50_000_000,
		EthAddress:       "0x52e9c0b61d49ad156e89f06ff67e1a48f6e3d1d1",
		FeeSatsReserved:  3_000_000,
		CompleterAddress: completer.Address(),
		ChangeAddress:    completer.Address(),
	})
	require.NoError(t, err)

	// A completer expecting a larger bridge fee refuses the transfer.
	completer.cfg.Delegation.BridgeFee = "0.02"
	completer.SetUnspent([]backend.UTXO{currencyUTXO("bb", 0, 3_000_000)}, nil)
	_, err = completer.CompletePartial(context.Background(), CompletePartialParams{
		TxHex:           res.TxHex,
		FeeSatsReserved: 3_000_000,
		ReportedFeeSats: res.ReportedFeeSats,
		ChangeAddress:   completer.Address(),
		Bridge:          true,
	})
	require.ErrorIs(t, err, ErrClaimMismatch)
}

func TestOfferFeeReservation(t *testing.T) {
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w := testWallet(t, 0x0b, WithStorage(store))
	require.NoError(t, store.SaveUTXO(&storage.UTXO{
		TxID:   "bb",
		Vout:   0,
		Amount: reservedFeeSats,
		Status: storage.UTXOStatusConfirmed,
	}))

	offer, err := w.OfferFeeReservation(0)
	require.NoError(t, err)
	require.NotEmpty(t, offer.ReservationID)
	require.Equal(t, int64(reservedFeeSats), offer.FeeSatsReserved)
	require.Equal(t, w.Address(), offer.CompleterAddress)
	require.Equal(t, w.Address(), offer.ChangeAddress)

	// The ledger records the open reservation by exact value.
	found, err := store.FindFeeReservationByValue(reservedFeeSats)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, offer.ReservationID, found.ID)
}

func TestOfferFeeReservationRequiresStorage(t *testing.T) {
	w := testWallet(t, 0x0b)
	_, err := w.OfferFeeReservation(0)
	require.Error(t, err)
}
