// Package s6a implements the Authentication-Information and
// Update-Location command handlers: the only two S6a operations this HSS
// serves (see spec Non-goals — no other S6a commands, no Diameter base
// stack). Grounded on hss_ogs_diam_s6a_air_cb and hss_ogs_diam_s6a_ulr_cb
// in the Open5GS HSS this spec descends from.
package s6a

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/protei/hss/internal/avderive"
	"github.com/protei/hss/internal/crypto"
	"github.com/protei/hss/internal/diamcodec"
	"github.com/protei/hss/internal/hsserrors"
	"github.com/protei/hss/internal/pool"
	"github.com/protei/hss/internal/store"
)

// Logger is the narrow logging surface the dispatcher needs, satisfied by
// internal/logger.Logger.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
}

// Observer receives a notification after every completed AIR/ULR
// transaction, successful or not. Implemented by pkg/ops (live transaction
// feed) and pkg/audit (CDR sink); neither is required, so a Dispatcher with
// no Observer set simply skips the call.
type Observer interface {
	Observe(imsi, command string, resultCode uint32, latency time.Duration)
}

// Dispatcher answers AIR and ULR requests against a subscriber store and
// vector pool.
type Dispatcher struct {
	store       store.Store
	pool        *pool.Manager
	originHost  string
	originRealm string
	log         Logger
	observer    Observer
}

// NewDispatcher constructs a dispatcher. originHost/originRealm populate
// every answer's Origin-Host/Origin-Realm AVPs.
func NewDispatcher(s store.Store, p *pool.Manager, originHost, originRealm string, log Logger) *Dispatcher {
	return &Dispatcher{store: s, pool: p, originHost: originHost, originRealm: originRealm, log: log}
}

// SetObserver attaches a transaction observer. Not safe to call concurrently
// with HandleAIR/HandleULR.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

func (d *Dispatcher) notify(start time.Time, imsi, command string, ans *diamcodec.Message) {
	if d.observer == nil {
		return
	}
	var code uint32
	if rc, ok := ans.Find(diamcodec.AVPResultCode); ok {
		code, _ = rc.Uint32()
	} else if er, ok := ans.Find(diamcodec.AVPExperimentalResult); ok {
		if children, err := er.Grouped(); err == nil {
			for _, c := range children {
				if c.Code == diamcodec.AVPExperimentalResultCode {
					code, _ = c.Uint32()
				}
			}
		}
	}
	d.observer.Observe(imsi, command, code, time.Since(start))
}

// HandleAIR answers an Authentication-Information-Request. It always returns
// an answer message, never a bare error: subscriber-not-found and
// resynchronisation failure map to an Experimental-Result, a decode
// failure on the request itself (missing mandatory AVP) falls back to the
// Diameter base Result-Code DIAMETER_MISSING_AVP (5005), and any other
// failure (store, key material, derivation) answers with the
// Experimental-Result AUTHENTICATION_DATA_UNAVAILABLE (4181).
func (d *Dispatcher) HandleAIR(ctx context.Context, req *diamcodec.Message) (ans *diamcodec.Message, err error) {
	start := time.Now()
	var imsi string
	defer func() {
		if err != nil {
			d.log.Error("AIR failed", err, "imsi", imsi)
			ans = diamcodec.NewAnswer(req)
			d.stampCommon(ans)
			setExperimentalResult(ans, diamcodec.ResultAuthDataUnavailable)
			err = nil
		}
		if ans != nil {
			d.notify(start, imsi, "AIR", ans)
		}
	}()

	var plmnID, resyncAVP []byte
	imsi, plmnID, resyncAVP, err = parseAIRRequest(req)
	if err != nil {
		ans = diamcodec.NewAnswer(req)
		d.stampCommon(ans)
		ans.AddUint32(diamcodec.AVPResultCode, diamcodec.AVPFlagMandatory, diamcodec.ResultMissingAVP)
		return ans, nil
	}

	ans = diamcodec.NewAnswer(req)
	d.stampCommon(ans)

	rec, err := d.store.Get(ctx, imsi)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.log.Warn("AIR: unknown subscriber", "imsi", imsi)
			setExperimentalResult(ans, diamcodec.ResultUserUnknown)
			return ans, nil
		}
		return nil, fmt.Errorf("s6a: AIR store lookup: %w", err)
	}

	k, opc, err := resolveKeyMaterial(rec)
	if err != nil {
		return nil, fmt.Errorf("s6a: AIR key material: %w", err)
	}
	if len(plmnID) != 3 {
		plmnID = rec.Security.PLMNID
	}

	if resyncAVP != nil {
		vec, resyncErr := d.resync(ctx, rec, k, opc, plmnID, resyncAVP)
		if resyncErr != nil {
			if errors.Is(resyncErr, hsserrors.ErrResyncMACMismatch) {
				d.log.Warn("AIR: resync MAC-S mismatch", "imsi", imsi)
				setExperimentalResult(ans, diamcodec.ResultAuthDataUnavailable)
				return ans, nil
			}
			return nil, fmt.Errorf("s6a: AIR resync: %w", resyncErr)
		}
		addEUTRANVector(ans, vec)
		ans.AddUint32(diamcodec.AVPResultCode, diamcodec.AVPFlagMandatory, diamcodec.ResultSuccess)
		return ans, nil
	}

	var vec *avderive.Vector
	if rec.Security.UseRemote {
		queued, ok, popErr := d.pool.AcquireFromQueue(ctx, imsi)
		if popErr != nil {
			return nil, fmt.Errorf("s6a: AIR queue pop: %w", popErr)
		}
		if !ok {
			d.log.Warn("AIR: remote subscriber queue empty", "imsi", imsi)
			setExperimentalResult(ans, diamcodec.ResultAuthDataUnavailable)
			return ans, nil
		}
		vec = &avderive.Vector{RAND: queued.RAND, AUTN: queued.AUTN, XRES: queued.XRES, KASME: queued.KASME, SQN: queued.SQN}
	} else {
		vec, err = d.pool.Acquire(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("s6a: AIR acquire: %w", err)
		}
		// Persist the RAND/SQN just used, then advance SQN for the next
		// authentication, exactly in that order (see SPEC_FULL.md §13
		// item 4: always re-persist before answering).
		if err := d.store.UpdateRandSQN(ctx, imsi, vec.RAND, vec.SQN); err != nil {
			return nil, fmt.Errorf("s6a: AIR persist rand/sqn: %w", err)
		}
		if _, err := d.store.BumpSQN(ctx, imsi, 32); err != nil {
			return nil, fmt.Errorf("s6a: AIR bump sqn: %w", err)
		}
	}

	addEUTRANVector(ans, vec)
	ans.AddUint32(diamcodec.AVPResultCode, diamcodec.AVPFlagMandatory, diamcodec.ResultSuccess)
	return ans, nil
}

// resync recovers SQN_MS from the Re-Synchronization-Info AVP, verifies
// MAC-S, derives the next vector, and — for a local subscriber — persists
// RAND/SQN before returning, per SPEC_FULL.md §13 item 4.
func (d *Dispatcher) resync(ctx context.Context, rec *store.Record, k, opc, plmnID, resyncInfo []byte) (*avderive.Vector, error) {
	if len(resyncInfo) != 30 {
		return nil, fmt.Errorf("s6a: Re-Synchronization-Info must be 30 bytes, got %d: %w", len(resyncInfo), hsserrors.ErrMalformedRequest)
	}
	randUsed := resyncInfo[:16]
	auts := resyncInfo[16:]

	sqnMS, err := avderive.Resync(k, opc, randUsed, auts)
	if err != nil {
		return nil, err
	}

	nextSQN := avderive.NextSQNAfterResync(sqnMS)
	freshRAND, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("s6a: resync fresh RAND: %w", err)
	}

	vec, err := avderive.Derive(k, opc, plmnID, nextSQN, rec.Security.AMF, freshRAND)
	if err != nil {
		return nil, fmt.Errorf("s6a: resync derive: %w", err)
	}

	if !rec.Security.UseRemote {
		if err := d.store.UpdateRandSQN(ctx, rec.IMSI, vec.RAND, vec.SQN); err != nil {
			return nil, fmt.Errorf("s6a: resync persist rand/sqn: %w", err)
		}
	}
	return vec, nil
}

func (d *Dispatcher) stampCommon(ans *diamcodec.Message) {
	ans.AddString(diamcodec.AVPOriginHost, diamcodec.AVPFlagMandatory, d.originHost)
	ans.AddString(diamcodec.AVPOriginRealm, diamcodec.AVPFlagMandatory, d.originRealm)
	ans.AddUint32(diamcodec.AVPAuthSessionState, diamcodec.AVPFlagMandatory, diamcodec.AuthSessionStateNoStateMaintained)

	appID := &diamcodec.Message{}
	appID.AddUint32(diamcodec.AVPVendorID, diamcodec.AVPFlagMandatory, diamcodec.VendorID3GPP)
	appID.AddUint32(diamcodec.AVPAuthApplicationID, diamcodec.AVPFlagMandatory, diamcodec.AppIDS6a)
	ans.AddGrouped(diamcodec.AVPVendorSpecificApplicationID, diamcodec.AVPFlagMandatory, appID)
}

func setExperimentalResult(ans *diamcodec.Message, code uint32) {
	result := &diamcodec.Message{}
	result.AddUint32(diamcodec.AVPVendorID, diamcodec.AVPFlagMandatory, diamcodec.VendorID3GPP)
	result.AddUint32(diamcodec.AVPExperimentalResultCode, diamcodec.AVPFlagMandatory, code)
	ans.AddGrouped(diamcodec.AVPExperimentalResult, diamcodec.AVPFlagMandatory, result)
}

func addEUTRANVector(ans *diamcodec.Message, vec *avderive.Vector) {
	authInfo := &diamcodec.Message{}
	euVec := &diamcodec.Message{}
	euVec.AddVendor(diamcodec.AVPRAND, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, vec.RAND)
	euVec.AddVendor(diamcodec.AVPXRES, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, vec.XRES)
	euVec.AddVendor(diamcodec.AVPAUTN, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, vec.AUTN)
	euVec.AddVendor(diamcodec.AVPKASME, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, vec.KASME)
	authInfo.AddVendorGrouped(diamcodec.AVPEUTRANVector, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, euVec)
	ans.AddVendorGrouped(diamcodec.AVPAuthenticationInfo, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, authInfo)
}

func resolveKeyMaterial(rec *store.Record) (k, opc []byte, err error) {
	k = rec.Security.K
	if rec.Security.UseOPC {
		return k, rec.Security.OPC, nil
	}
	opc, err = crypto.ComputeOPc(k, rec.Security.OP)
	if err != nil {
		return nil, nil, err
	}
	return k, opc, nil
}

func parseAIRRequest(req *diamcodec.Message) (imsi string, plmnID, resyncInfo []byte, err error) {
	userName, ok := req.Find(diamcodec.AVPUserName)
	if !ok {
		return "", nil, nil, fmt.Errorf("missing User-Name: %w", hsserrors.ErrMalformedRequest)
	}
	imsi = userName.String()

	if plmn, ok := req.FindVendor(diamcodec.AVPVisitedPLMNID, diamcodec.VendorID3GPP); ok {
		plmnID = plmn.Data
	}

	if reqInfo, ok := req.FindVendor(diamcodec.AVPRequestedEUTRANAuthInfo, diamcodec.VendorID3GPP); ok {
		children, gErr := reqInfo.Grouped()
		if gErr == nil {
			for _, c := range children {
				if c.Code == diamcodec.AVPReSynchronizationInfo && c.VendorID == diamcodec.VendorID3GPP {
					resyncInfo = c.Data
				}
			}
		}
	}
	return imsi, plmnID, resyncInfo, nil
}
