package diamcodec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := NewRequest(CmdAIR, AppIDS6a, 42, 43)
	req.AddString(AVPSessionID, AVPFlagMandatory, "hss.example.net;123;456")
	req.AddString(AVPOriginHost, AVPFlagMandatory, "hss.example.net")
	req.AddString(AVPUserName, AVPFlagMandatory, "001010000000001")
	req.AddVendor(AVPVisitedPLMNID, VendorID3GPP, AVPFlagMandatory|AVPFlagVendor, []byte{0x00, 0x01, 0x10})

	wire := req.Encode()

	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Header.CommandCode != CmdAIR {
		t.Fatalf("CommandCode = %d, want %d", got.Header.CommandCode, CmdAIR)
	}
	if got.Header.ApplicationID != AppIDS6a {
		t.Fatalf("ApplicationID = %d, want %d", got.Header.ApplicationID, AppIDS6a)
	}
	if !got.Header.IsRequest() {
		t.Fatalf("expected Request flag to be set")
	}

	sess, ok := got.Find(AVPSessionID)
	if !ok {
		t.Fatalf("Session-Id AVP missing")
	}
	if sess.String() != "hss.example.net;123;456" {
		t.Fatalf("Session-Id = %q", sess.String())
	}

	plmn, ok := got.FindVendor(AVPVisitedPLMNID, VendorID3GPP)
	if !ok {
		t.Fatalf("Visited-PLMN-Id AVP missing")
	}
	if len(plmn.Data) != 3 {
		t.Fatalf("Visited-PLMN-Id length = %d, want 3", len(plmn.Data))
	}
}

func TestGroupedAVP(t *testing.T) {
	req := NewRequest(CmdAIR, AppIDS6a, 1, 2)

	vec := &Message{}
	vec.Add(AVPRAND, AVPFlagMandatory|AVPFlagVendor, make([]byte, 16))
	vec.Add(AVPXRES, AVPFlagMandatory|AVPFlagVendor, make([]byte, 8))
	vec.AddVendor(AVPAUTN, VendorID3GPP, AVPFlagMandatory|AVPFlagVendor, make([]byte, 16))

	req.AddVendorGrouped(AVPEUTRANVector, VendorID3GPP, AVPFlagMandatory|AVPFlagVendor, vec)

	wire := req.Encode()
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	euVec, ok := got.FindVendor(AVPEUTRANVector, VendorID3GPP)
	if !ok {
		t.Fatalf("E-UTRAN-Vector AVP missing")
	}
	children, err := euVec.Grouped()
	if err != nil {
		t.Fatalf("Grouped: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("children = %d, want 3", len(children))
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x00, 0x00}); err == nil {
		t.Fatalf("expected error for truncated message")
	}
}

func TestNewAnswerMirrorsRouting(t *testing.T) {
	req := NewRequest(CmdULR, AppIDS6a, 7, 8)
	ans := NewAnswer(req)

	if ans.Header.IsRequest() {
		t.Fatalf("answer must not have Request flag set")
	}
	if ans.Header.HopByHopID != req.Header.HopByHopID || ans.Header.EndToEndID != req.Header.EndToEndID {
		t.Fatalf("answer must mirror hop-by-hop/end-to-end identifiers")
	}
	if ans.Header.CommandCode != CmdULR {
		t.Fatalf("answer command code mismatch")
	}
}
