package script

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/SatoriNetwork/satori-lite/internal/chain"
)

// OpAssetMarker is the asset-script marker opcode (OP_EVR_ASSET /
// OP_RVN_ASSET). Script engines without asset support reject it, which the
// verifier tolerates for tagged outputs.
const OpAssetMarker = 0xc0

// assetTypeTransfer tags a transfer-quantity payload inside the marker.
const assetTypeTransfer = 0x74 // 't'

// maxAssetNameLen bounds the single length byte in the payload.
const maxAssetNameLen = 127

// AssetTransfer is a decoded asset movement from a tagged locking script.
type AssetTransfer struct {
	Symbol []byte // chain tag, e.g. "evr"
	Name   string // asset name, e.g. "SATORI"
	Sats   int64  // transfer quantity in asset satoshis
}

// EncodeAssetPayload serializes an asset transfer:
// symbol || 't' || len(name) || name || 8-byte little-endian quantity.
func EncodeAssetPayload(symbol []byte, name string, sats int64) ([]byte, error) {
	if len(symbol) == 0 {
		return nil, fmt.Errorf("%w: empty chain symbol", ErrConstruction)
	}
	if name == "" || len(name) > maxAssetNameLen {
		return nil, fmt.Errorf("%w: asset name length %d", ErrConstruction, len(name))
	}
	if sats < 0 {
		return nil, fmt.Errorf("%w: negative asset quantity %d", ErrConstruction, sats)
	}
	payload := make([]byte, 0, len(symbol)+2+len(name)+8)
	payload = append(payload, symbol...)
	payload = append(payload, assetTypeTransfer, byte(len(name)))
	payload = append(payload, name...)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], uint64(sats))
	return append(payload, amt[:]...), nil
}

// DecodeAssetPayload is the inverse of EncodeAssetPayload. Quantities of
// one to eight bytes are accepted: legacy encoders did not always pad to
// eight.
func DecodeAssetPayload(payload []byte) (*AssetTransfer, error) {
	// symbol(3) + type(1) + nameLen(1) + name(>=1) + amount(>=1)
	if len(payload) < 7 {
		return nil, fmt.Errorf("%w: asset payload too short (%d bytes)", ErrParse, len(payload))
	}
	symbol := payload[:3]
	if payload[3] != assetTypeTransfer {
		return nil, fmt.Errorf("%w: asset payload type 0x%02x is not a transfer", ErrParse, payload[3])
	}
	nameLen := int(payload[4])
	rest := payload[5:]
	if nameLen == 0 || nameLen > len(rest)-1 {
		return nil, fmt.Errorf("%w: asset name length %d exceeds payload", ErrParse, nameLen)
	}
	name := string(rest[:nameLen])
	amt := rest[nameLen:]
	if len(amt) > 8 {
		return nil, fmt.Errorf("%w: asset quantity is %d bytes", ErrParse, len(amt))
	}
	var padded [8]byte
	copy(padded[:], amt)
	sats := binary.LittleEndian.Uint64(padded[:])
	if sats > 1<<62 {
		return nil, fmt.Errorf("%w: asset quantity overflow", ErrParse)
	}
	out := &AssetTransfer{Name: name, Sats: int64(sats)}
	out.Symbol = append(out.Symbol, symbol...)
	return out, nil
}

// AppendAssetTag appends an asset transfer tag to a base locking script:
// base || OpAssetMarker || push(payload) || OP_DROP. The base value of such
// an output is zero; the tag carries the asset quantity.
func AppendAssetTag(base Script, params *chain.Params, name string, sats int64) (Script, error) {
	if len(base) == 0 {
		return nil, fmt.Errorf("%w: empty base script", ErrConstruction)
	}
	payload, err := EncodeAssetPayload(params.SymbolBytes, name, sats)
	if err != nil {
		return nil, err
	}
	suffix, err := txscript.NewScriptBuilder().
		AddOp(OpAssetMarker).
		AddData(payload).
		AddOp(txscript.OP_DROP).
		Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	tagged := make(Script, 0, len(base)+len(suffix))
	tagged = append(tagged, base...)
	return append(tagged, suffix...), nil
}

// ParseAssetTag scans a locking script for the asset marker and decodes the
// transfer payload that follows it. ok is false for untagged scripts.
func ParseAssetTag(s Script) (transfer *AssetTransfer, ok bool, err error) {
	tok := txscript.MakeScriptTokenizer(0, s)
	marked := false
	for tok.Next() {
		if marked {
			data := tok.Data()
			if data == nil {
				return nil, false, fmt.Errorf("%w: asset marker not followed by a data push", ErrParse)
			}
			transfer, err = DecodeAssetPayload(data)
			if err != nil {
				return nil, false, err
			}
			return transfer, true, nil
		}
		if tok.Opcode() == OpAssetMarker {
			marked = true
		}
	}
	if err := tok.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if marked {
		return nil, false, fmt.Errorf("%w: asset marker at end of script", ErrParse)
	}
	return nil, false, nil
}

// HasAssetMarker reports whether the script executes the asset marker
// opcode. Marker bytes inside data pushes do not count.
func HasAssetMarker(s Script) bool {
	tok := txscript.MakeScriptTokenizer(0, s)
	for tok.Next() {
		if tok.Opcode() == OpAssetMarker {
			return true
		}
	}
	if tok.Err() != nil {
		// Unparseable tail; fall back to a byte scan so verification
		// tolerance still applies.
		return bytes.IndexByte(s, OpAssetMarker) >= 0
	}
	return false
}
