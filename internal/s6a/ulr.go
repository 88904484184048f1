package s6a

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/protei/hss/internal/diamcodec"
	"github.com/protei/hss/internal/hsserrors"
	"github.com/protei/hss/internal/store"
)

// HandleULR answers an Update-Location-Request, returning the subscriber's
// full Subscription-Data AVP tree unless the request's ULR-Flags carry the
// skip-subscriber-data bit. Grounded on hss_ogs_diam_s6a_ulr_cb. Like
// HandleAIR, it always returns an answer: a decode failure (missing
// mandatory AVP) falls back to DIAMETER_MISSING_AVP (5005) instead of a
// bare error, and a store failure answers with the Experimental-Result
// AUTHENTICATION_DATA_UNAVAILABLE (4181).
func (d *Dispatcher) HandleULR(ctx context.Context, req *diamcodec.Message) (ans *diamcodec.Message, err error) {
	start := time.Now()
	var imsi string
	defer func() {
		if err != nil {
			d.log.Error("ULR failed", err, "imsi", imsi)
			ans = diamcodec.NewAnswer(req)
			d.stampCommon(ans)
			setExperimentalResult(ans, diamcodec.ResultAuthDataUnavailable)
			err = nil
		}
		if ans != nil {
			d.notify(start, imsi, "ULR", ans)
		}
	}()

	var ulrFlags uint32
	imsi, ulrFlags, err = parseULRRequest(req)
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
			d.log.Warn("ULR: unknown subscriber", "imsi", imsi)
			setExperimentalResult(ans, diamcodec.ResultUserUnknown)
			return ans, nil
		}
		return nil, fmt.Errorf("s6a: ULR store lookup: %w", err)
	}

	ans.AddVendorUint32(diamcodec.AVPULAFlags, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, diamcodec.ULAFlagMMERegisteredForSMS)

	if ulrFlags&diamcodec.ULRFlagSkipSubscriberData == 0 {
		ans.AddVendorGrouped(diamcodec.AVPSubscriptionData, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, buildSubscriptionData(&rec.Subscription))
	}

	ans.AddUint32(diamcodec.AVPResultCode, diamcodec.AVPFlagMandatory, diamcodec.ResultSuccess)
	return ans, nil
}

// kbpsToBitPerSec converts an AMBR value expressed in kb/s (as stored) to
// bit/s (as required on the wire), per spec.md §6's {1000,5000} kb/s ->
// {1024000,5120000} bit/s worked example — a x1024 conversion, not x1000.
func kbpsToBitPerSec(kbps uint32) uint32 {
	return kbps * 1024
}

func buildSubscriptionData(sub *store.Subscription) *diamcodec.Message {
	m := &diamcodec.Message{}
	m.AddVendorUint32(diamcodec.AVPSubscriberStatus, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, sub.SubscriberStatus)

	if sub.AccessRestrictionData != 0 {
		m.AddVendorUint32(diamcodec.AVPAccessRestrictionData, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, sub.AccessRestrictionData)
	}

	m.AddVendorUint32(diamcodec.AVPNetworkAccessMode, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, sub.NetworkAccessMode)

	m.AddVendorGrouped(diamcodec.AVPAMBR, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, buildAMBR(sub.AMBRUplinkKbps, sub.AMBRDownlinkKbps))

	m.AddVendorUint32(diamcodec.AVPSubscribedPeriodicRAUTAU, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, sub.RAUTAUTimerMinutes*60)

	if len(sub.PDNs) > 0 {
		profile := &diamcodec.Message{}
		profile.AddVendorUint32(diamcodec.AVPContextIdentifier, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, 1)
		profile.AddVendorUint32(diamcodec.AVPAllAPNConfigIncludedInd, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, 0)
		for i, p := range sub.PDNs {
			profile.AddVendorGrouped(diamcodec.AVPAPNConfiguration, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, buildAPNConfiguration(i, p))
		}
		m.AddVendorGrouped(diamcodec.AVPAPNConfigurationProfile, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, profile)
	}

	return m
}

func buildAMBR(uplinkKbps, downlinkKbps uint32) *diamcodec.Message {
	m := &diamcodec.Message{}
	m.AddUint32(diamcodec.AVPMaxRequestedBandwidthUL, diamcodec.AVPFlagMandatory, kbpsToBitPerSec(uplinkKbps))
	m.AddUint32(diamcodec.AVPMaxRequestedBandwidthDL, diamcodec.AVPFlagMandatory, kbpsToBitPerSec(downlinkKbps))
	return m
}

func buildAPNConfiguration(index int, p store.PDNProfile) *diamcodec.Message {
	m := &diamcodec.Message{}
	m.AddVendorUint32(diamcodec.AVPContextIdentifier, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, uint32(index+1))
	m.AddVendorUint32(diamcodec.AVPPDNType, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.PDNType)
	m.AddString(diamcodec.AVPServiceSelection, diamcodec.AVPFlagMandatory, p.APN)

	if len(p.UEAddrV4) == 4 {
		_ = m.AddVendorAddress(diamcodec.AVPServedPartyIPAddress, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.UEAddrV4)
	}
	if len(p.UEAddrV6) == 16 {
		_ = m.AddVendorAddress(diamcodec.AVPServedPartyIPAddress, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.UEAddrV6)
	}

	qos := &diamcodec.Message{}
	qos.AddVendorUint32(diamcodec.AVPQoSClassIdentifier, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.QCI)
	arp := &diamcodec.Message{}
	arp.AddVendorUint32(diamcodec.AVPPriorityLevel, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.PriorityLevel)
	arp.AddVendorUint32(diamcodec.AVPPreEmptionCapability, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.PreEmptionCap)
	arp.AddVendorUint32(diamcodec.AVPPreEmptionVulnerability, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, p.PreEmptionVuln)
	qos.AddVendorGrouped(diamcodec.AVPAllocationRetentionPrio, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, arp)
	m.AddVendorGrouped(diamcodec.AVPEPSSubscribedQoSProfile, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, qos)

	if p.AMBRUplinkKbps != 0 || p.AMBRDownlinkKbps != 0 {
		m.AddVendorGrouped(diamcodec.AVPAMBR, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, buildAMBR(p.AMBRUplinkKbps, p.AMBRDownlinkKbps))
	}

	if len(p.PGWIPv4) == 4 || len(p.PGWIPv6) == 16 {
		agent := &diamcodec.Message{}
		if len(p.PGWIPv4) == 4 {
			agent.AddVendorUint32(diamcodec.AVPMIPHomeAgentAddress, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, binary.BigEndian.Uint32(p.PGWIPv4))
		}
		m.AddVendorGrouped(diamcodec.AVPMIP6AgentInfo, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, agent)
	}

	return m
}

func parseULRRequest(req *diamcodec.Message) (imsi string, ulrFlags uint32, err error) {
	userName, ok := req.Find(diamcodec.AVPUserName)
	if !ok {
		return "", 0, fmt.Errorf("missing User-Name: %w", hsserrors.ErrMalformedRequest)
	}
	imsi = userName.String()

	if flags, ok := req.FindVendor(diamcodec.AVPULRFlags, diamcodec.VendorID3GPP); ok {
		v, convErr := flags.Uint32()
		if convErr == nil {
			ulrFlags = v
		}
	}
	return imsi, ulrFlags, nil
}
