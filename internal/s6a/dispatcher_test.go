package s6a

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/protei/hss/internal/avderive"
	"github.com/protei/hss/internal/crypto"
	"github.com/protei/hss/internal/diamcodec"
	"github.com/protei/hss/internal/pool"
	"github.com/protei/hss/internal/store"
)

type testLogger struct{}

func (testLogger) Info(string, ...interface{})           {}
func (testLogger) Warn(string, ...interface{})            {}
func (testLogger) Error(string, error, ...interface{})    {}

func hb(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return b
}

func newTestDispatcher(t *testing.T) (*Dispatcher, store.Store, *store.Record) {
	t.Helper()
	s := store.NewMemory()
	rec := &store.Record{
		IMSI: "001010000000001",
		Security: store.Security{
			K:      hb(t, "465b5ce8b199b49faa5f0a2ee238a6bc"),
			OPC:    hb(t, "cd63cb71954a4f4f28ac73ef9a5a3fe7"),
			UseOPC: true,
			AMF:    hb(t, "b9b9"),
			SQN:    0,
			PLMNID: hb(t, "001010"),
		},
		Subscription: store.Subscription{
			SubscriberStatus:  0,
			NetworkAccessMode: 0,
			AMBRUplinkKbps:    1000,
			AMBRDownlinkKbps:  5000,
			PDNs: []store.PDNProfile{
				{APN: "internet", PDNType: 0, QCI: 9, PriorityLevel: 8, UEAddrV4: []byte{10, 20, 30, 40}},
			},
		},
	}
	if err := s.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p := pool.NewManager(s, pool.DefaultRefillSize)
	d := NewDispatcher(s, p, "hss.example.net", "example.net", testLogger{})
	return d, s, rec
}

func airRequest(imsi string, plmn []byte) *diamcodec.Message {
	req := diamcodec.NewRequest(diamcodec.CmdAIR, diamcodec.AppIDS6a, 1, 1)
	req.AddString(diamcodec.AVPUserName, diamcodec.AVPFlagMandatory, imsi)
	if plmn != nil {
		req.AddVendor(diamcodec.AVPVisitedPLMNID, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, plmn)
	}
	return req
}

func TestHandleAIRUnknownSubscriber(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ans, err := d.HandleAIR(context.Background(), airRequest("001010000000000", nil))
	if err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}
	result, ok := ans.Find(diamcodec.AVPExperimentalResult)
	if !ok {
		t.Fatalf("expected Experimental-Result AVP")
	}
	children, err := result.Grouped()
	if err != nil {
		t.Fatalf("Grouped: %v", err)
	}
	var code uint32
	for _, c := range children {
		if c.Code == diamcodec.AVPExperimentalResultCode {
			code, _ = c.Uint32()
		}
	}
	if code != diamcodec.ResultUserUnknown {
		t.Fatalf("experimental result = %d, want %d", code, diamcodec.ResultUserUnknown)
	}
}

func TestHandleAIRSuccess(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ans, err := d.HandleAIR(context.Background(), airRequest("001010000000001", hb(t, "001010")))
	if err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}

	rc, ok := ans.Find(diamcodec.AVPResultCode)
	if !ok {
		t.Fatalf("missing Result-Code")
	}
	v, _ := rc.Uint32()
	if v != diamcodec.ResultSuccess {
		t.Fatalf("Result-Code = %d, want %d", v, diamcodec.ResultSuccess)
	}

	authInfo, ok := ans.FindVendor(diamcodec.AVPAuthenticationInfo, diamcodec.VendorID3GPP)
	if !ok {
		t.Fatalf("missing Authentication-Info")
	}
	children, err := authInfo.Grouped()
	if err != nil || len(children) != 1 {
		t.Fatalf("Authentication-Info children = %d, err = %v", len(children), err)
	}
	euVecChildren, err := children[0].Grouped()
	if err != nil {
		t.Fatalf("E-UTRAN-Vector grouped: %v", err)
	}
	found := map[uint32]bool{}
	for _, c := range euVecChildren {
		found[c.Code] = true
	}
	for _, code := range []uint32{diamcodec.AVPRAND, diamcodec.AVPXRES, diamcodec.AVPAUTN, diamcodec.AVPKASME} {
		if !found[code] {
			t.Fatalf("E-UTRAN-Vector missing AVP code %d", code)
		}
	}
}

func TestHandleAIRResyncSuccess(t *testing.T) {
	d, s, rec := newTestDispatcher(t)
	ctx := context.Background()

	rnd := hb(t, "23553cbe9637a89d218ae64dae47bf35")
	sqnMS := hb(t, "ff9bb4d0b607")
	zeroAMF := []byte{0x00, 0x00}

	opc := rec.Security.OPC
	k := rec.Security.K

	macS, err := crypto.F1Star(k, opc, rnd, sqnMS, zeroAMF)
	if err != nil {
		t.Fatalf("F1Star: %v", err)
	}
	aks, err := crypto.F5Star(k, opc, rnd)
	if err != nil {
		t.Fatalf("F5Star: %v", err)
	}
	auts := crypto.GenerateAUTS(sqnMS, aks, macS)

	resyncInfo := append(append([]byte{}, rnd...), auts...)

	req := diamcodec.NewRequest(diamcodec.CmdAIR, diamcodec.AppIDS6a, 2, 2)
	req.AddString(diamcodec.AVPUserName, diamcodec.AVPFlagMandatory, "001010000000001")
	req.AddVendor(diamcodec.AVPVisitedPLMNID, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, hb(t, "001010"))

	reqAuthInfo := &diamcodec.Message{}
	reqAuthInfo.AddVendor(diamcodec.AVPReSynchronizationInfo, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, resyncInfo)
	req.AddVendorGrouped(diamcodec.AVPRequestedEUTRANAuthInfo, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, reqAuthInfo)

	ans, err := d.HandleAIR(ctx, req)
	if err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}

	rc, ok := ans.Find(diamcodec.AVPResultCode)
	if !ok {
		t.Fatalf("missing Result-Code")
	}
	v, _ := rc.Uint32()
	if v != diamcodec.ResultSuccess {
		t.Fatalf("Result-Code = %d, want success", v)
	}

	got, err := s.Get(ctx, "001010000000001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	wantSQN := avderive.NextSQNAfterResync(avderive.SQNFromBytes(sqnMS))
	if got.Security.SQN != wantSQN {
		t.Fatalf("persisted SQN = %d, want %d", got.Security.SQN, wantSQN)
	}
}

func TestHandleAIRResyncMACMismatch(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	rnd := hb(t, "23553cbe9637a89d218ae64dae47bf35")
	badAUTS := make([]byte, 14) // all-zero, will not match MAC-S

	resyncInfo := append(append([]byte{}, rnd...), badAUTS...)

	req := diamcodec.NewRequest(diamcodec.CmdAIR, diamcodec.AppIDS6a, 3, 3)
	req.AddString(diamcodec.AVPUserName, diamcodec.AVPFlagMandatory, "001010000000001")
	reqAuthInfo := &diamcodec.Message{}
	reqAuthInfo.AddVendor(diamcodec.AVPReSynchronizationInfo, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, resyncInfo)
	req.AddVendorGrouped(diamcodec.AVPRequestedEUTRANAuthInfo, diamcodec.VendorID3GPP, diamcodec.AVPFlagMandatory|diamcodec.AVPFlagVendor, reqAuthInfo)

	ans, err := d.HandleAIR(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}
	result, ok := ans.Find(diamcodec.AVPExperimentalResult)
	if !ok {
		t.Fatalf("expected Experimental-Result AVP")
	}
	children, _ := result.Grouped()
	var code uint32
	for _, c := range children {
		if c.Code == diamcodec.AVPExperimentalResultCode {
			code, _ = c.Uint32()
		}
	}
	if code != diamcodec.ResultAuthDataUnavailable {
		t.Fatalf("experimental result = %d, want %d", code, diamcodec.ResultAuthDataUnavailable)
	}
}

func ulrRequest(imsi string) *diamcodec.Message {
	req := diamcodec.NewRequest(diamcodec.CmdULR, diamcodec.AppIDS6a, 1, 1)
	req.AddString(diamcodec.AVPUserName, diamcodec.AVPFlagMandatory, imsi)
	return req
}

func TestHandleULRSuccess(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ans, err := d.HandleULR(context.Background(), ulrRequest("001010000000001"))
	if err != nil {
		t.Fatalf("HandleULR: %v", err)
	}

	rc, ok := ans.Find(diamcodec.AVPResultCode)
	if !ok {
		t.Fatalf("missing Result-Code")
	}
	v, _ := rc.Uint32()
	if v != diamcodec.ResultSuccess {
		t.Fatalf("Result-Code = %d, want success", v)
	}

	subData, ok := ans.FindVendor(diamcodec.AVPSubscriptionData, diamcodec.VendorID3GPP)
	if !ok {
		t.Fatalf("missing Subscription-Data")
	}
	children, err := subData.Grouped()
	if err != nil {
		t.Fatalf("Grouped: %v", err)
	}
	var ambr diamcodec.AVP
	found := false
	for _, c := range children {
		if c.Code == diamcodec.AVPAMBR {
			ambr = c
			found = true
		}
	}
	if !found {
		t.Fatalf("missing AMBR AVP")
	}
	ambrChildren, err := ambr.Grouped()
	if err != nil {
		t.Fatalf("AMBR grouped: %v", err)
	}
	for _, c := range ambrChildren {
		val, _ := c.Uint32()
		switch c.Code {
		case diamcodec.AVPMaxRequestedBandwidthUL:
			if val != 1024000 {
				t.Fatalf("uplink AMBR = %d, want 1024000", val)
			}
		case diamcodec.AVPMaxRequestedBandwidthDL:
			if val != 5120000 {
				t.Fatalf("downlink AMBR = %d, want 5120000", val)
			}
		}
	}

	var profile diamcodec.AVP
	found = false
	for _, c := range children {
		if c.Code == diamcodec.AVPAPNConfigurationProfile {
			profile = c
			found = true
		}
	}
	if !found {
		t.Fatalf("missing APN-Configuration-Profile AVP")
	}
	profileChildren, err := profile.Grouped()
	if err != nil {
		t.Fatalf("APN-Configuration-Profile grouped: %v", err)
	}
	var apnConfig diamcodec.AVP
	found = false
	for _, c := range profileChildren {
		if c.Code == diamcodec.AVPAPNConfiguration {
			apnConfig = c
			found = true
		}
	}
	if !found {
		t.Fatalf("missing APN-Configuration AVP")
	}
	apnConfigChildren, err := apnConfig.Grouped()
	if err != nil {
		t.Fatalf("APN-Configuration grouped: %v", err)
	}
	found = false
	for _, c := range apnConfigChildren {
		if c.Code == diamcodec.AVPServedPartyIPAddress {
			found = true
			if len(c.Data) != 6 || c.Data[1] != 1 {
				t.Fatalf("Served-Party-IP-Address malformed: %x", c.Data)
			}
			if got := c.Data[2:]; hex.EncodeToString(got) != "0a141e28" {
				t.Fatalf("Served-Party-IP-Address = %x, want 0a141e28", got)
			}
		}
	}
	if !found {
		t.Fatalf("missing Served-Party-IP-Address AVP")
	}
}

func TestHandleAIRMissingUserName(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	req := diamcodec.NewRequest(diamcodec.CmdAIR, diamcodec.AppIDS6a, 4, 4)
	ans, err := d.HandleAIR(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}
	rc, ok := ans.Find(diamcodec.AVPResultCode)
	if !ok {
		t.Fatalf("missing Result-Code")
	}
	if v, _ := rc.Uint32(); v != diamcodec.ResultMissingAVP {
		t.Fatalf("Result-Code = %d, want %d (DIAMETER_MISSING_AVP)", v, diamcodec.ResultMissingAVP)
	}
}

func TestHandleULRMissingUserName(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	req := diamcodec.NewRequest(diamcodec.CmdULR, diamcodec.AppIDS6a, 5, 5)
	ans, err := d.HandleULR(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleULR: %v", err)
	}
	rc, ok := ans.Find(diamcodec.AVPResultCode)
	if !ok {
		t.Fatalf("missing Result-Code")
	}
	if v, _ := rc.Uint32(); v != diamcodec.ResultMissingAVP {
		t.Fatalf("Result-Code = %d, want %d (DIAMETER_MISSING_AVP)", v, diamcodec.ResultMissingAVP)
	}
}

func TestHandleULRUnknownSubscriber(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ans, err := d.HandleULR(context.Background(), ulrRequest("999999999999999"))
	if err != nil {
		t.Fatalf("HandleULR: %v", err)
	}
	if _, ok := ans.Find(diamcodec.AVPExperimentalResult); !ok {
		t.Fatalf("expected Experimental-Result for unknown subscriber")
	}
}
