// Package pool implements the authentication-vector pool manager: on every
// Acquire it derives the vector to return at the subscriber's current SQN
// and pushes a further batch of precomputed vectors onto the store-backed
// queue. Acquire does not check the queue's depth and does not take
// vectors from it; queued vectors are consumed through AcquireFromQueue.
// Grounded on hss_db_write_additional_vectors (Open5GS HSS), which performs
// the equivalent refill as nine additional $push'd documents.
package pool

import (
	"context"
	"fmt"

	"github.com/protei/hss/internal/avderive"
	"github.com/protei/hss/internal/crypto"
	"github.com/protei/hss/internal/store"
)

// DefaultRefillSize is the number of vectors generated per refill when a
// Manager is built without an explicit size, matching the original's i=1..9
// loop (one vector derived inline plus nine queued).
const DefaultRefillSize = 9

// Manager draws vectors for local subscribers, refilling the store-backed
// queue as needed.
type Manager struct {
	store      store.Store
	refillSize int
}

// NewManager constructs a pool manager over the given subscriber store,
// refilling refillSize vectors per Acquire call. A refillSize below 1 falls
// back to DefaultRefillSize, matching pkg/config.PoolConfig's own floor.
func NewManager(s store.Store, refillSize int) *Manager {
	if refillSize < 1 {
		refillSize = DefaultRefillSize
	}
	return &Manager{store: s, refillSize: refillSize}
}

// Acquire returns the next authentication vector for imsi, deriving a fresh
// one at the subscriber's current SQN and refilling the queue with
// m.refillSize additional vectors at SQN+32, SQN+64, ... Unlike the original
// hss_db_write_additional_vectors, each refilled vector gets its own fresh
// RAND rather than reusing one RAND for the whole batch (see SPEC_FULL.md
// §13 item 2 — TS 33.102 permits either, and per-AV freshness is the safer
// default).
func (m *Manager) Acquire(ctx context.Context, rec *store.Record) (*avderive.Vector, error) {
	k, opc, err := resolveKeyMaterial(rec)
	if err != nil {
		return nil, err
	}

	baseSQN := rec.Security.SQN
	amf := rec.Security.AMF

	rnd, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("pool: random RAND: %w", err)
	}
	head, err := avderive.Derive(k, opc, rec.Security.PLMNID, baseSQN, amf, rnd)
	if err != nil {
		return nil, fmt.Errorf("pool: derive head vector: %w", err)
	}

	var refill []store.Vector
	for i := 1; i <= m.refillSize; i++ {
		sqn := (baseSQN + uint64(i)*32) & avderive.SQNMax
		rnd, err := crypto.RandomBytes(16)
		if err != nil {
			return nil, fmt.Errorf("pool: random RAND (refill %d): %w", i, err)
		}
		v, err := avderive.Derive(k, opc, rec.Security.PLMNID, sqn, amf, rnd)
		if err != nil {
			return nil, fmt.Errorf("pool: derive refill vector %d: %w", i, err)
		}
		refill = append(refill, store.Vector{RAND: v.RAND, AUTN: v.AUTN, XRES: v.XRES, KASME: v.KASME, SQN: v.SQN})
	}
	if err := m.store.PushVectors(ctx, rec.IMSI, refill); err != nil {
		return nil, fmt.Errorf("pool: push refill: %w", err)
	}

	return head, nil
}

// AcquireFromQueue pops a vector already queued in the store (used for
// remote subscribers, whose vectors are supplied by another HSS rather
// than derived locally).
func (m *Manager) AcquireFromQueue(ctx context.Context, imsi string) (store.Vector, bool, error) {
	return m.store.PopVector(ctx, imsi)
}

func resolveKeyMaterial(rec *store.Record) (k, opc []byte, err error) {
	k = rec.Security.K
	if rec.Security.UseOPC {
		return k, rec.Security.OPC, nil
	}
	opc, err = crypto.ComputeOPc(k, rec.Security.OP)
	if err != nil {
		return nil, nil, fmt.Errorf("pool: compute OPc: %w", err)
	}
	return k, opc, nil
}
