// Package avderive implements the two operations the HSS performs with
// MILENAGE: deriving a fresh authentication vector for a given SQN, and
// recovering the UE's SQN_MS (and validating its MAC-S) from a
// resynchronisation AUTS. Grounded on hss_auc_kasme/hss_auc_sqn from the
// Open5GS HSS auth-vector-computation source this spec descends from.
package avderive

import (
	"fmt"

	"github.com/protei/hss/internal/crypto"
	"github.com/protei/hss/internal/hsserrors"
)

// SQNMax is the largest representable 48-bit SQN.
const SQNMax uint64 = 1<<48 - 1

// Vector is one EPS authentication vector as delivered on S6a.
type Vector struct {
	RAND  []byte // 16 bytes
	AUTN  []byte // 16 bytes
	XRES  []byte // 8 bytes
	KASME []byte // 32 bytes
	SQN   uint64 // the SQN this vector was derived against, for bookkeeping
}

// SQNToBytes packs a 48-bit SQN into 6 big-endian bytes.
func SQNToBytes(sqn uint64) []byte {
	b := make([]byte, 6)
	b[0] = byte(sqn >> 40)
	b[1] = byte(sqn >> 32)
	b[2] = byte(sqn >> 24)
	b[3] = byte(sqn >> 16)
	b[4] = byte(sqn >> 8)
	b[5] = byte(sqn)
	return b
}

// SQNFromBytes unpacks 6 big-endian bytes into a 48-bit SQN.
func SQNFromBytes(b []byte) uint64 {
	var sqn uint64
	for _, v := range b {
		sqn = sqn<<8 | uint64(v)
	}
	return sqn
}

// Derive computes a fresh authentication vector for the given subscriber
// key material and SQN, against a caller-supplied RAND challenge and AMF.
func Derive(k, opc, plmnID []byte, sqn uint64, amf, rnd []byte) (*Vector, error) {
	sqnB := SQNToBytes(sqn)

	macA, err := crypto.F1(k, opc, rnd, sqnB, amf)
	if err != nil {
		return nil, fmt.Errorf("avderive: F1: %w", err)
	}

	xres, ck, ik, ak, err := crypto.F2345(k, opc, rnd)
	if err != nil {
		return nil, fmt.Errorf("avderive: F2345: %w", err)
	}

	autn := crypto.GenerateAUTN(sqnB, ak, amf, macA)

	kasme, err := crypto.KASMEFromCKIK(ck, ik, plmnID, sqnB, ak)
	if err != nil {
		return nil, fmt.Errorf("avderive: KASME: %w", err)
	}

	return &Vector{
		RAND:  rnd,
		AUTN:  autn,
		XRES:  xres,
		KASME: kasme,
		SQN:   sqn,
	}, nil
}

// Resync recovers SQN_MS from a 14-byte AUTS sent by the UE against the
// RAND the HSS most recently issued, and validates its embedded MAC-S.
// Returns hsserrors.ErrResyncMACMismatch if verification fails.
func Resync(k, opc, randStored, auts []byte) (sqnMS uint64, err error) {
	if len(auts) != 14 {
		return 0, fmt.Errorf("avderive: AUTS must be 14 bytes, got %d: %w", len(auts), hsserrors.ErrMalformedRequest)
	}
	concealedSQN := auts[0:6]
	macS := auts[6:14]

	aks, err := crypto.F5Star(k, opc, randStored)
	if err != nil {
		return 0, fmt.Errorf("avderive: F5Star: %w", err)
	}

	sqnMSBytes := crypto.XorConcealedSQN(concealedSQN, aks)
	sqnMS = SQNFromBytes(sqnMSBytes)

	zeroAMF := []byte{0x00, 0x00}
	recomputed, err := crypto.F1Star(k, opc, randStored, sqnMSBytes, zeroAMF)
	if err != nil {
		return 0, fmt.Errorf("avderive: F1Star: %w", err)
	}

	if !constantTimeEqual(recomputed, macS) {
		return 0, hsserrors.ErrResyncMACMismatch
	}
	return sqnMS, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// NextSQN advances SQN by 32 on a normal successful authentication (low 5
// bits are the IND field and are left untouched across a bump), masked to
// 48 bits.
func NextSQN(sqn uint64) uint64 {
	return (sqn + 32) & SQNMax
}

// NextSQNAfterResync advances SQN_MS by 33 (the extra +1 over a normal bump
// per 3GPP TS 33.102 C.3.4) to pick the next SQN after a resync.
func NextSQNAfterResync(sqnMS uint64) uint64 {
	return (sqnMS + 32 + 1) & SQNMax
}
