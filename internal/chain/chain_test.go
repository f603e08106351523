package chain

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParamsFor(t *testing.T) {
	main, err := ParamsFor(Mainnet)
	if err != nil {
		t.Fatalf("ParamsFor(Mainnet): %v", err)
	}
	if main.Symbol != "EVR" {
		t.Errorf("mainnet symbol = %s, want EVR", main.Symbol)
	}

	test, err := ParamsFor(Testnet)
	if err != nil {
		t.Fatalf("ParamsFor(Testnet): %v", err)
	}
	if test.PubKeyHashAddrID != 111 {
		t.Errorf("testnet p2pkh version = %d, want 111", test.PubKeyHashAddrID)
	}

	if _, err := ParamsFor(Network("regtest")); err == nil {
		t.Error("expected error for unknown network")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	h160 := bytes.Repeat([]byte{0xab}, 20)

	tests := []struct {
		name   string
		params *Params
		prefix string
	}{
		{"evrmore mainnet", &EvrmoreMainNetParams, "E"},
		{"evrmore testnet", &EvrmoreTestNetParams, ""},
		{"ravencoin", &RavencoinMainNetParams, "R"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := tt.params.PubKeyHashToAddress(h160)
			if tt.prefix != "" && !strings.HasPrefix(addr, tt.prefix) {
				t.Errorf("address %s does not start with %s", addr, tt.prefix)
			}
			got, isP2SH, err := tt.params.DecodeAddress(addr)
			if err != nil {
				t.Fatalf("DecodeAddress(%s): %v", addr, err)
			}
			if isP2SH {
				t.Error("P2PKH address decoded as P2SH")
			}
			if !bytes.Equal(got, h160) {
				t.Errorf("round trip hash = %x, want %x", got, h160)
			}
		})
	}
}

func TestScriptHashAddress(t *testing.T) {
	h160 := bytes.Repeat([]byte{0x01}, 20)
	addr := EvrmoreMainNetParams.ScriptHashToAddress(h160)

	got, isP2SH, err := EvrmoreMainNetParams.DecodeAddress(addr)
	if err != nil {
		t.Fatalf("DecodeAddress(%s): %v", addr, err)
	}
	if !isP2SH {
		t.Error("P2SH address decoded as P2PKH")
	}
	if !bytes.Equal(got, h160) {
		t.Errorf("round trip hash = %x, want %x", got, h160)
	}

	// A script-hash address is rejected where a pubkey hash is required.
	if _, err := EvrmoreMainNetParams.AddressToPubKeyHash(addr); err == nil {
		t.Error("expected error decoding P2SH address as P2PKH")
	}
}

func TestDecodeAddressErrors(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"empty", ""},
		{"garbage", "not an address"},
		{"bad checksum", "EXBurnMintXXXXXXXXXXXXXXXXXXXbdK5F"},
		{"wrong network", RavencoinMainNetParams.PubKeyHashToAddress(bytes.Repeat([]byte{2}, 20))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := EvrmoreMainNetParams.DecodeAddress(tt.addr)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("DecodeAddress(%q) err = %v, want ErrInvalidAddress", tt.addr, err)
			}
			if EvrmoreMainNetParams.ValidAddress(tt.addr) {
				t.Errorf("ValidAddress(%q) = true", tt.addr)
			}
		})
	}
}

func TestWellKnownAddresses(t *testing.T) {
	if !EvrmoreMainNetParams.ValidAddress(EvrmoreMainNetParams.BurnAddress) {
		t.Error("mainnet burn address does not decode")
	}
	if !EvrmoreMainNetParams.ValidAddress(EvrmoreMainNetParams.BridgeAddress) {
		t.Error("mainnet bridge address does not decode")
	}
}

func TestPubKeyToAddress(t *testing.T) {
	// Compressed public key of private key 1.
	pubKey := []byte{
		0x02, 0x79, 0xbe, 0x66, 0x7e, 0xf9, 0xdc, 0xbb, 0xac, 0x55, 0xa0,
		0x62, 0x95, 0xce, 0x87, 0x0b, 0x07, 0x02, 0x9b, 0xfc, 0xdb, 0x2d,
		0xce, 0x28, 0xd9, 0x59, 0xf2, 0x81, 0x5b, 0x16, 0xf8, 0x17, 0x98,
	}
	addr := EvrmoreMainNetParams.PubKeyToAddress(pubKey)
	if !EvrmoreMainNetParams.ValidAddress(addr) {
		t.Fatalf("derived address %s does not decode", addr)
	}
	h160, err := EvrmoreMainNetParams.AddressToPubKeyHash(addr)
	if err != nil {
		t.Fatalf("AddressToPubKeyHash: %v", err)
	}
	if len(h160) != 20 {
		t.Errorf("hash length = %d, want 20", len(h160))
	}
}
