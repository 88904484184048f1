// Package hsserrors defines the sentinel error taxonomy shared by the store,
// pool, AV deriver and S6a dispatcher, so the dispatcher can classify any
// error it receives into a Diameter result code without type-asserting
// across package boundaries.
package hsserrors

import "errors"

var (
	// ErrNotProvisioned means the IMSI has no subscriber record.
	ErrNotProvisioned = errors.New("hss: subscriber not provisioned")

	// ErrStoreTransient means the backing store failed in a way that may
	// succeed on retry (connection reset, write concern timeout, ...).
	ErrStoreTransient = errors.New("hss: store temporarily unavailable")

	// ErrResyncMACMismatch means the MAC-S recomputed from AUTS did not
	// match the one sent by the UE.
	ErrResyncMACMismatch = errors.New("hss: resynchronisation MAC-S mismatch")

	// ErrPoolEmpty means a remote subscriber's authentication-vector
	// queue is empty and this HSS does not own derivation for it.
	ErrPoolEmpty = errors.New("hss: authentication vector pool empty")

	// ErrMalformedRequest means the inbound Diameter message failed to
	// decode or was missing a mandatory AVP.
	ErrMalformedRequest = errors.New("hss: malformed request")

	// ErrInternal means a handler failed in a way unrelated to the request
	// itself (a panic, a programming error) and was recovered at the
	// façade boundary rather than propagated to the caller.
	ErrInternal = errors.New("hss: internal error")
)
