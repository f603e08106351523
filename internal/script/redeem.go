package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Timeout bounds for channel redeem scripts.
const (
	// MinTimeoutBlocks and MaxTimeoutBlocks bound relative timeouts
	// expressed in blocks.
	MinTimeoutBlocks = 1
	MaxTimeoutBlocks = 65535

	// csvTimeFlag marks a relative timeout measured in 512-second units
	// instead of blocks (bit 22 of the sequence encoding).
	csvTimeFlag = 0x00400000

	// minTimestamp is the consensus boundary between block heights and
	// unix timestamps in absolute locktimes.
	minTimestamp = 500_000_000
)

func checkPubKey(name string, pubKey []byte) error {
	if len(pubKey) != 33 {
		return fmt.Errorf("%w: %s public key must be 33 bytes, got %d", ErrConstruction, name, len(pubKey))
	}
	return nil
}

// Multisig builds an m-of-n redeem script: m <pubkeys...> n CHECKMULTISIG.
// required must satisfy 1 <= required <= len(pubKeys).
func Multisig(required int, pubKeys [][]byte) (Script, error) {
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("%w: no public keys", ErrConstruction)
	}
	if required < 1 || required > len(pubKeys) {
		return nil, fmt.Errorf("%w: required signatures %d outside [1, %d]", ErrConstruction, required, len(pubKeys))
	}
	b := txscript.NewScriptBuilder()
	b.AddInt64(int64(required))
	for i, pubKey := range pubKeys {
		if err := checkPubKey(fmt.Sprintf("cosigner %d", i), pubKey); err != nil {
			return nil, err
		}
		b.AddData(pubKey)
	}
	b.AddInt64(int64(len(pubKeys)))
	b.AddOp(txscript.OP_CHECKMULTISIG)
	raw, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	return Script(raw), nil
}

// channelScript assembles the shared channel shape:
//
//	IF
//	    2 <senderPub> <receiverPub> 2 CHECKMULTISIG
//	ELSE
//	    <timeout> <lockOp> DROP <senderPub> CHECKSIG
//	ENDIF
//
// The IF branch needs both parties; the ELSE branch returns funds to the
// sender once the timeout passes.
func channelScript(senderPub, receiverPub []byte, timeout int64, lockOp byte) (Script, error) {
	if err := checkPubKey("sender", senderPub); err != nil {
		return nil, err
	}
	if err := checkPubKey("receiver", receiverPub); err != nil {
		return nil, err
	}
	raw, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_2).
		AddData(senderPub).
		AddData(receiverPub).
		AddOp(txscript.OP_2).
		AddOp(txscript.OP_CHECKMULTISIG).
		AddOp(txscript.OP_ELSE).
		AddInt64(timeout).
		AddOp(lockOp).
		AddOp(txscript.OP_DROP).
		AddData(senderPub).
		AddOp(txscript.OP_CHECKSIG).
		AddOp(txscript.OP_ENDIF).
		Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	return Script(raw), nil
}

// RenewableChannel builds a channel redeem script whose reclaim branch is
// locked behind a relative timeout in blocks. Relative timeouts reset every
// time the channel output is re-spent, so the channel can be renewed.
func RenewableChannel(senderPub, receiverPub []byte, blocks uint32) (Script, error) {
	if blocks < MinTimeoutBlocks || blocks > MaxTimeoutBlocks {
		return nil, fmt.Errorf("%w: timeout %d blocks outside [%d, %d]",
			ErrConstruction, blocks, MinTimeoutBlocks, MaxTimeoutBlocks)
	}
	return channelScript(senderPub, receiverPub, int64(blocks), txscript.OP_CHECKSEQUENCEVERIFY)
}

// RenewableChannelByTime is RenewableChannel with the timeout expressed in
// minutes, converted to 512-second units. Timeouts shorter than one unit
// round up to one.
func RenewableChannelByTime(senderPub, receiverPub []byte, minutes uint32) (Script, error) {
	if minutes == 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrConstruction)
	}
	units := int64(minutes) * 60 / 512
	if units < MinTimeoutBlocks {
		units = MinTimeoutBlocks
	}
	if units > MaxTimeoutBlocks {
		return nil, fmt.Errorf("%w: timeout %d minutes encodes to %d units above %d",
			ErrConstruction, minutes, units, MaxTimeoutBlocks)
	}
	return channelScript(senderPub, receiverPub, csvTimeFlag|units, txscript.OP_CHECKSEQUENCEVERIFY)
}

// NonRenewableChannel builds a channel redeem script whose reclaim branch
// unlocks at an absolute block height.
func NonRenewableChannel(senderPub, receiverPub []byte, height uint32) (Script, error) {
	if height == 0 || int64(height) >= minTimestamp {
		return nil, fmt.Errorf("%w: block height %d outside (0, %d)", ErrConstruction, height, minTimestamp)
	}
	return channelScript(senderPub, receiverPub, int64(height), txscript.OP_CHECKLOCKTIMEVERIFY)
}

// NonRenewableChannelByTime builds a channel redeem script whose reclaim
// branch unlocks at a unix timestamp. Timestamps below the consensus
// boundary would be read as block heights and are rejected.
func NonRenewableChannelByTime(senderPub, receiverPub []byte, timestamp int64) (Script, error) {
	if timestamp < minTimestamp {
		return nil, fmt.Errorf("%w: timestamp %d below %d would be read as a block height",
			ErrConstruction, timestamp, minTimestamp)
	}
	return channelScript(senderPub, receiverPub, timestamp, txscript.OP_CHECKLOCKTIMEVERIFY)
}

// Channel is a parsed channel redeem script.
type Channel struct {
	SenderPubKey   []byte
	ReceiverPubKey []byte
	Timeout        int64
	Renewable      bool // reclaim branch uses a relative (CSV) timeout
}

// TimeoutInSeconds reports whether a renewable channel's timeout is
// measured in 512-second units rather than blocks.
func (c *Channel) TimeoutInSeconds() bool {
	return c.Renewable && c.Timeout&csvTimeFlag != 0
}

// ReclaimSequence returns the input sequence that satisfies the reclaim
// branch of a renewable channel.
func (c *Channel) ReclaimSequence() uint32 {
	return uint32(c.Timeout)
}

type channelTokenizer struct {
	tok *txscript.ScriptTokenizer
}

func (t *channelTokenizer) nextOp(op byte) error {
	if !t.tok.Next() {
		return fmt.Errorf("%w: channel script truncated", ErrParse)
	}
	if t.tok.Opcode() != op {
		return fmt.Errorf("%w: expected opcode 0x%02x, got 0x%02x", ErrParse, op, t.tok.Opcode())
	}
	return nil
}

func (t *channelTokenizer) nextPubKey() ([]byte, error) {
	if !t.tok.Next() {
		return nil, fmt.Errorf("%w: channel script truncated", ErrParse)
	}
	data := t.tok.Data()
	if len(data) != 33 {
		return nil, fmt.Errorf("%w: expected a 33-byte public key push", ErrParse)
	}
	return data, nil
}

func (t *channelTokenizer) nextNum() (int64, error) {
	if !t.tok.Next() {
		return 0, fmt.Errorf("%w: channel script truncated", ErrParse)
	}
	if txscript.IsSmallInt(t.tok.Opcode()) {
		return int64(txscript.AsSmallInt(t.tok.Opcode())), nil
	}
	data := t.tok.Data()
	if len(data) == 0 || len(data) > 5 {
		return 0, fmt.Errorf("%w: expected a numeric push", ErrParse)
	}
	var v int64
	for i, b := range data {
		v |= int64(b) << (8 * i)
	}
	return v, nil
}

// ParseChannel decodes a channel redeem script built by RenewableChannel or
// NonRenewableChannel (and their ByTime variants).
func ParseChannel(redeem Script) (*Channel, error) {
	tok := txscript.MakeScriptTokenizer(0, redeem)
	t := &channelTokenizer{tok: &tok}

	if err := t.nextOp(txscript.OP_IF); err != nil {
		return nil, err
	}
	if err := t.nextOp(txscript.OP_2); err != nil {
		return nil, err
	}
	sender, err := t.nextPubKey()
	if err != nil {
		return nil, err
	}
	receiver, err := t.nextPubKey()
	if err != nil {
		return nil, err
	}
	if err := t.nextOp(txscript.OP_2); err != nil {
		return nil, err
	}
	if err := t.nextOp(txscript.OP_CHECKMULTISIG); err != nil {
		return nil, err
	}
	if err := t.nextOp(txscript.OP_ELSE); err != nil {
		return nil, err
	}
	timeout, err := t.nextNum()
	if err != nil {
		return nil, err
	}
	if !tok.Next() {
		return nil, fmt.Errorf("%w: channel script truncated", ErrParse)
	}
	var renewable bool
	switch tok.Opcode() {
	case txscript.OP_CHECKSEQUENCEVERIFY:
		renewable = true
	case txscript.OP_CHECKLOCKTIMEVERIFY:
		renewable = false
	default:
		return nil, fmt.Errorf("%w: expected a timelock opcode, got 0x%02x", ErrParse, tok.Opcode())
	}
	if err := t.nextOp(txscript.OP_DROP); err != nil {
		return nil, err
	}
	reclaimKey, err := t.nextPubKey()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reclaimKey, sender) {
		return nil, fmt.Errorf("%w: reclaim key differs from sender key", ErrParse)
	}
	if err := t.nextOp(txscript.OP_CHECKSIG); err != nil {
		return nil, err
	}
	if err := t.nextOp(txscript.OP_ENDIF); err != nil {
		return nil, err
	}
	if tok.Next() {
		return nil, fmt.Errorf("%w: trailing opcodes after ENDIF", ErrParse)
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	ch := &Channel{Timeout: timeout, Renewable: renewable}
	ch.SenderPubKey = append(ch.SenderPubKey, sender...)
	ch.ReceiverPubKey = append(ch.ReceiverPubKey, receiver...)
	return ch, nil
}

// RedeemPubKeys returns the distinct public keys pushed by a redeem script,
// in script order. Signature ordering follows this sequence.
func RedeemPubKeys(redeem Script) [][]byte {
	var keys [][]byte
	tok := txscript.MakeScriptTokenizer(0, redeem)
	for tok.Next() {
		data := tok.Data()
		if len(data) != 33 {
			continue
		}
		dup := false
		for _, k := range keys {
			if bytes.Equal(k, data) {
				dup = true
				break
			}
		}
		if !dup {
			key := make([]byte, 33)
			copy(key, data)
			keys = append(keys, key)
		}
	}
	return keys
}
