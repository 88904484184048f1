// Package store is the subscriber store: per-IMSI documents holding the
// security vector (K, OP/OPC, AMF, SQN, RAND) and subscription data (APN
// profiles, AMBR, QoS), plus a queue of precomputed authentication vectors.
// Grounded on hss_db_auth_info / hss_db_update_rand_and_sqn /
// hss_db_increment_sqn / hss_db_write_additional_vectors from the Open5GS
// HSS this spec descends from, which perform exactly these operations as
// atomic $set/$inc/$push document updates against MongoDB.
package store

import (
	"context"
	"errors"
)

// PDNProfile is one subscribed APN configuration.
type PDNProfile struct {
	ContextID        uint32
	APN              string
	PDNType          uint32 // 0=IPv4, 1=IPv6, 2=IPv4v6
	QCI              uint32
	PriorityLevel    uint32
	PreEmptionCap    uint32
	PreEmptionVuln   uint32
	AMBRUplinkKbps   uint32 // 0 means "use subscriber-level AMBR"
	AMBRDownlinkKbps uint32
	PGWIPv4          []byte // optional, for MIP6-Agent-Info
	PGWIPv6          []byte
	UEAddrV4         []byte // allocated UE address(es), for Served-Party-IP-Address
	UEAddrV6         []byte
}

// Subscription is the ULR-facing subscription data for one subscriber.
type Subscription struct {
	MSISDN                string
	AccessRestrictionData uint32
	SubscriberStatus      uint32
	NetworkAccessMode     uint32
	AMBRUplinkKbps        uint32
	AMBRDownlinkKbps      uint32
	RAUTAUTimerMinutes    uint32
	PDNs                  []PDNProfile
}

// Security is the per-subscriber AKA key material and running SQN state.
type Security struct {
	K         []byte
	OP        []byte // nil if UseOPC
	OPC       []byte // used directly when non-nil (UseOPC)
	UseOPC    bool
	AMF       []byte // 2 bytes, default AMF for fresh derivation
	SQN       uint64
	RAND      []byte // last RAND issued to this subscriber, 16 bytes
	PLMNID    []byte // 3 bytes, home or registered PLMN for KASME derivation
	UseRemote bool   // true: vectors come from a remote HSS, this store only queues them
}

// Vector is a precomputed authentication vector queued for later delivery,
// the document-store analogue of avderive.Vector.
type Vector struct {
	RAND  []byte
	AUTN  []byte
	XRES  []byte
	KASME []byte
	SQN   uint64
}

// Record is one subscriber document.
type Record struct {
	IMSI         string
	Security     Security
	Subscription Subscription
	Queue        []Vector
}

var (
	// ErrNotFound means no document exists for the given IMSI.
	ErrNotFound = errors.New("store: subscriber not found")
)

// Store is the subscriber-store contract. All operations that mutate state
// are atomic with respect to a single IMSI's document — concurrent AIR/ULR
// handling for different IMSIs never contends, per spec's concurrency model.
type Store interface {
	// Get loads the full subscriber record.
	Get(ctx context.Context, imsi string) (*Record, error)

	// Put creates or fully replaces a subscriber record (provisioning path).
	Put(ctx context.Context, rec *Record) error

	// UpdateRandSQN atomically sets security.rand and security.sqn.
	UpdateRandSQN(ctx context.Context, imsi string, rand []byte, sqn uint64) error

	// BumpSQN atomically increments security.sqn by delta (masked to 48
	// bits) and returns the new value.
	BumpSQN(ctx context.Context, imsi string, delta uint64) (uint64, error)

	// PushVectors atomically appends precomputed vectors to the
	// subscriber's queue (security.authvectors in the original schema).
	PushVectors(ctx context.Context, imsi string, vecs []Vector) error

	// PopVector atomically removes and returns the first queued vector,
	// reporting false if the queue is empty.
	PopVector(ctx context.Context, imsi string) (Vector, bool, error)

	// Ping reports whether the store backend is reachable, for the ops
	// readiness probe.
	Ping(ctx context.Context) error
}
