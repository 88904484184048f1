// Package diamcodec is a minimal Diameter message and AVP codec: just
// enough of RFC 6733 to build and parse S6a Authentication-Information and
// Update-Location requests/answers. It intentionally does not implement
// peer discovery, capability negotiation, watchdogs, routing, or transport —
// those live behind the internal/diamfacade boundary and are out of scope
// for this HSS (see spec Non-goals: the Diameter base stack).
package diamcodec

import (
	"encoding/binary"
	"fmt"
)

const (
	headerLen    = 20
	avpHeaderLen = 8
	vendorAVPLen = 12

	flagRequest      = 0x80
	flagProxiable    = 0x40
	avpFlagVendor    = 0x80
	avpFlagMandatory = 0x40
)

// Header is the fixed 20-byte Diameter message header.
type Header struct {
	Version       uint8
	Flags         uint8
	CommandCode   uint32 // 24 bits on the wire
	ApplicationID uint32
	HopByHopID    uint32
	EndToEndID    uint32
}

// IsRequest reports whether the Request bit (R) is set.
func (h Header) IsRequest() bool { return h.Flags&flagRequest != 0 }

// AVP is one decoded or to-be-encoded Attribute-Value Pair.
type AVP struct {
	Code     uint32
	VendorID uint32 // 0 if the V flag is unset
	Flags    uint8
	Data     []byte
}

// Message is a decoded or in-construction Diameter message.
type Message struct {
	Header Header
	AVPs   []AVP
}

// NewRequest starts a new request message for the given command/application.
func NewRequest(cmdCode, appID, hopByHop, endToEnd uint32) *Message {
	return &Message{Header: Header{
		Version:       1,
		Flags:         flagRequest | flagProxiable,
		CommandCode:   cmdCode,
		ApplicationID: appID,
		HopByHopID:    hopByHop,
		EndToEndID:    endToEnd,
	}}
}

// NewAnswer builds an answer message mirroring a request's routing/session
// identifiers (hop-by-hop, end-to-end, command code, application ID), with
// the Request flag cleared.
func NewAnswer(req *Message) *Message {
	return &Message{Header: Header{
		Version:       1,
		Flags:         req.Header.Flags &^ flagRequest,
		CommandCode:   req.Header.CommandCode,
		ApplicationID: req.Header.ApplicationID,
		HopByHopID:    req.Header.HopByHopID,
		EndToEndID:    req.Header.EndToEndID,
	}}
}

// Add appends a non-vendor AVP carrying raw bytes.
func (m *Message) Add(code uint32, flags uint8, data []byte) {
	m.AVPs = append(m.AVPs, AVP{Code: code, Flags: flags, Data: data})
}

// AddVendor appends a vendor-specific AVP.
func (m *Message) AddVendor(code, vendorID uint32, flags uint8, data []byte) {
	m.AVPs = append(m.AVPs, AVP{Code: code, VendorID: vendorID, Flags: flags | avpFlagVendor, Data: data})
}

// AddUint32 appends an Unsigned32/Enumerated-typed AVP.
func (m *Message) AddUint32(code uint32, flags uint8, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	m.Add(code, flags, b)
}

// AddVendorUint32 appends a vendor-specific Unsigned32-typed AVP.
func (m *Message) AddVendorUint32(code, vendorID uint32, flags uint8, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	m.AddVendor(code, vendorID, flags, b)
}

// AddString appends a UTF8String/DiameterIdentity-typed AVP.
func (m *Message) AddString(code uint32, flags uint8, s string) {
	m.Add(code, flags, []byte(s))
}

// AddGrouped appends a Grouped AVP whose value is the encoding of its
// children, built with a fresh Message used purely as an AVP accumulator.
func (m *Message) AddGrouped(code uint32, flags uint8, children *Message) {
	m.Add(code, flags, EncodeAVPs(children.AVPs))
}

// AddVendorGrouped appends a vendor-specific Grouped AVP.
func (m *Message) AddVendorGrouped(code, vendorID uint32, flags uint8, children *Message) {
	m.AddVendor(code, vendorID, flags, EncodeAVPs(children.AVPs))
}

// Address family codes for the Address AVP type (RFC 6733 §4.3.1, IANA
// Address Family Numbers registry).
const (
	addressFamilyIPv4 = 1
	addressFamilyIPv6 = 2
)

// AddVendorAddress appends a vendor-specific Address-typed AVP: a two-byte
// address family followed by the raw address bytes. addr must be 4 bytes
// (IPv4) or 16 bytes (IPv6).
func (m *Message) AddVendorAddress(code, vendorID uint32, flags uint8, addr []byte) error {
	var family uint16
	switch len(addr) {
	case 4:
		family = addressFamilyIPv4
	case 16:
		family = addressFamilyIPv6
	default:
		return fmt.Errorf("diamcodec: address must be 4 or 16 bytes, got %d", len(addr))
	}
	data := make([]byte, 2+len(addr))
	binary.BigEndian.PutUint16(data[0:2], family)
	copy(data[2:], addr)
	m.AddVendor(code, vendorID, flags, data)
	return nil
}

// Find returns the first non-vendor AVP with the given code, if present.
func (m *Message) Find(code uint32) (AVP, bool) {
	for _, a := range m.AVPs {
		if a.Code == code && a.VendorID == 0 {
			return a, true
		}
	}
	return AVP{}, false
}

// FindVendor returns the first AVP with the given code and vendor ID.
func (m *Message) FindVendor(code, vendorID uint32) (AVP, bool) {
	for _, a := range m.AVPs {
		if a.Code == code && a.VendorID == vendorID {
			return a, true
		}
	}
	return AVP{}, false
}

// Uint32 interprets the AVP's data as a big-endian uint32.
func (a AVP) Uint32() (uint32, error) {
	if len(a.Data) != 4 {
		return 0, fmt.Errorf("diamcodec: AVP %d is not 4 bytes, got %d", a.Code, len(a.Data))
	}
	return binary.BigEndian.Uint32(a.Data), nil
}

// String interprets the AVP's data as text.
func (a AVP) String() string { return string(a.Data) }

// Grouped parses the AVP's data as a sequence of child AVPs.
func (a AVP) Grouped() ([]AVP, error) {
	return decodeAVPs(a.Data)
}

// Encode serializes the message to wire format.
func (m *Message) Encode() []byte {
	body := EncodeAVPs(m.AVPs)

	out := make([]byte, headerLen+len(body))
	length := uint32(headerLen + len(body))
	binary.BigEndian.PutUint32(out[0:4], length)
	out[0] = m.Header.Version
	out[4] = m.Header.Flags
	binary.BigEndian.PutUint32(out[4:8], m.Header.CommandCode)
	out[4] = m.Header.Flags
	binary.BigEndian.PutUint32(out[8:12], m.Header.ApplicationID)
	binary.BigEndian.PutUint32(out[12:16], m.Header.HopByHopID)
	binary.BigEndian.PutUint32(out[16:20], m.Header.EndToEndID)
	copy(out[headerLen:], body)
	return out
}

// EncodeAVPs serializes a flat list of AVPs (used both for a message body
// and for the children of a Grouped AVP), padding each to a 4-byte boundary.
func EncodeAVPs(avps []AVP) []byte {
	var out []byte
	for _, a := range avps {
		hdrLen := avpHeaderLen
		if a.Flags&avpFlagVendor != 0 {
			hdrLen = vendorAVPLen
		}
		avpLen := hdrLen + len(a.Data)

		buf := make([]byte, avpLen)
		binary.BigEndian.PutUint32(buf[0:4], a.Code)
		binary.BigEndian.PutUint32(buf[4:8], uint32(avpLen))
		buf[4] = a.Flags
		if a.Flags&avpFlagVendor != 0 {
			binary.BigEndian.PutUint32(buf[8:12], a.VendorID)
		}
		copy(buf[hdrLen:], a.Data)

		out = append(out, buf...)
		if pad := (4 - avpLen%4) % 4; pad > 0 {
			out = append(out, make([]byte, pad)...)
		}
	}
	return out
}

// Decode parses a complete Diameter message from wire format.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("diamcodec: message too short (%d bytes)", len(data))
	}

	h := Header{
		Version:       data[0],
		Flags:         data[4],
		CommandCode:   binary.BigEndian.Uint32(data[4:8]) & 0x00FFFFFF,
		ApplicationID: binary.BigEndian.Uint32(data[8:12]),
		HopByHopID:    binary.BigEndian.Uint32(data[12:16]),
		EndToEndID:    binary.BigEndian.Uint32(data[16:20]),
	}
	length := binary.BigEndian.Uint32(data[0:4]) & 0x00FFFFFF
	if int(length) > len(data) {
		return nil, fmt.Errorf("diamcodec: declared length %d exceeds buffer %d", length, len(data))
	}

	avps, err := decodeAVPs(data[headerLen:length])
	if err != nil {
		return nil, err
	}
	return &Message{Header: h, AVPs: avps}, nil
}

func decodeAVPs(data []byte) ([]AVP, error) {
	var avps []AVP
	offset := 0
	for offset+avpHeaderLen <= len(data) {
		code := binary.BigEndian.Uint32(data[offset : offset+4])
		flags := data[offset+4]
		avpLen := int(binary.BigEndian.Uint32(data[offset+4:offset+8]) & 0x00FFFFFF)
		if avpLen < avpHeaderLen || offset+avpLen > len(data) {
			return nil, fmt.Errorf("diamcodec: malformed AVP at offset %d (length %d)", offset, avpLen)
		}

		hdrLen := avpHeaderLen
		var vendorID uint32
		if flags&avpFlagVendor != 0 {
			if avpLen < vendorAVPLen {
				return nil, fmt.Errorf("diamcodec: vendor AVP at offset %d shorter than header", offset)
			}
			vendorID = binary.BigEndian.Uint32(data[offset+8 : offset+12])
			hdrLen = vendorAVPLen
		}

		value := append([]byte(nil), data[offset+hdrLen:offset+avpLen]...)
		avps = append(avps, AVP{Code: code, VendorID: vendorID, Flags: flags, Data: value})

		offset += avpLen
		offset += (4 - avpLen%4) % 4
	}
	return avps, nil
}
