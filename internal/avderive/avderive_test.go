package avderive

import (
	"encoding/hex"
	"testing"

	"github.com/protei/hss/internal/crypto"
	"github.com/protei/hss/internal/hsserrors"
)

func hb(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// TS 35.208 test-set 1, re-derived through the higher-level Derive
// orchestration rather than the individual f1/f2345 primitives.
func TestDeriveMatchesMilenageTestSet1(t *testing.T) {
	k := hb(t, "465b5ce8b199b49faa5f0a2ee238a6bc")
	op := hb(t, "cdc202d5123e20f62b6d676ac72cb318")
	rnd := hb(t, "23553cbe9637a89d218ae64dae47bf35")
	sqnBytes := hb(t, "ff9bb4d0b607")
	amf := hb(t, "b9b9")
	plmnID := hb(t, "214365")

	opc, err := crypto.ComputeOPc(k, op)
	if err != nil {
		t.Fatalf("ComputeOPc: %v", err)
	}

	sqn := SQNFromBytes(sqnBytes)
	vec, err := Derive(k, opc, plmnID, sqn, amf, rnd)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if got, want := hex.EncodeToString(vec.XRES), "a54211d5e3ba50bf"; got != want {
		t.Fatalf("XRES = %s, want %s", got, want)
	}
	if got, want := hex.EncodeToString(vec.AUTN), "55f3285c7577b9b94a9ffac354dfafb3"; got != want {
		t.Fatalf("AUTN = %s, want %s", got, want)
	}
	if len(vec.KASME) != 32 {
		t.Fatalf("KASME length = %d, want 32", len(vec.KASME))
	}
	if vec.SQN != sqn {
		t.Fatalf("vec.SQN = %d, want %d", vec.SQN, sqn)
	}
}

func TestSQNBytesRoundTrip(t *testing.T) {
	want := uint64(0xFF9BB4D0B607) & SQNMax
	got := SQNFromBytes(SQNToBytes(want))
	if got != want {
		t.Fatalf("round trip = %#x, want %#x", got, want)
	}
}

func TestResyncRecoversSQNAndValidatesMAC(t *testing.T) {
	k := hb(t, "465b5ce8b199b49faa5f0a2ee238a6bc")
	op := hb(t, "cdc202d5123e20f62b6d676ac72cb318")
	rndStored := hb(t, "23553cbe9637a89d218ae64dae47bf35")
	opc, err := crypto.ComputeOPc(k, op)
	if err != nil {
		t.Fatalf("ComputeOPc: %v", err)
	}

	sqnMS := uint64(0x112233445566) & SQNMax
	zeroAMF := []byte{0x00, 0x00}
	sqnMSBytes := SQNToBytes(sqnMS)

	aks, err := crypto.F5Star(k, opc, rndStored)
	if err != nil {
		t.Fatalf("F5Star: %v", err)
	}
	macS, err := crypto.F1Star(k, opc, rndStored, sqnMSBytes, zeroAMF)
	if err != nil {
		t.Fatalf("F1Star: %v", err)
	}
	auts := crypto.GenerateAUTS(sqnMSBytes, aks, macS)

	gotSQN, err := Resync(k, opc, rndStored, auts)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if gotSQN != sqnMS {
		t.Fatalf("Resync SQN = %#x, want %#x", gotSQN, sqnMS)
	}
}

func TestResyncRejectsTamperedMAC(t *testing.T) {
	k := hb(t, "465b5ce8b199b49faa5f0a2ee238a6bc")
	op := hb(t, "cdc202d5123e20f62b6d676ac72cb318")
	rndStored := hb(t, "23553cbe9637a89d218ae64dae47bf35")
	opc, err := crypto.ComputeOPc(k, op)
	if err != nil {
		t.Fatalf("ComputeOPc: %v", err)
	}

	sqnMSBytes := SQNToBytes(0x112233445566)
	aks, _ := crypto.F5Star(k, opc, rndStored)
	badMAC := make([]byte, 8)
	auts := crypto.GenerateAUTS(sqnMSBytes, aks, badMAC)

	if _, err := Resync(k, opc, rndStored, auts); err != hsserrors.ErrResyncMACMismatch {
		t.Fatalf("err = %v, want ErrResyncMACMismatch", err)
	}
}

func TestResyncRejectsShortAUTS(t *testing.T) {
	if _, err := Resync(nil, nil, nil, make([]byte, 10)); err == nil {
		t.Fatalf("expected error for short AUTS")
	}
}

func TestNextSQNAdvancesByThirtyTwo(t *testing.T) {
	if got, want := NextSQN(100), uint64(132); got != want {
		t.Fatalf("NextSQN(100) = %d, want %d", got, want)
	}
}

func TestNextSQNAfterResyncAdvancesByThirtyThree(t *testing.T) {
	if got, want := NextSQNAfterResync(100), uint64(133); got != want {
		t.Fatalf("NextSQNAfterResync(100) = %d, want %d", got, want)
	}
}

func TestNextSQNWrapsAt48Bits(t *testing.T) {
	if got := NextSQN(SQNMax); got > SQNMax {
		t.Fatalf("NextSQN overflowed 48 bits: %#x", got)
	}
}
