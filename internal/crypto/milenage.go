// Package crypto implements the MILENAGE algorithm set (3GPP TS 35.205/35.206)
// used by EPS-AKA: OPc derivation, f1/f1*, f2/f3/f4/f5, f5*, and the
// KASME key-derivation helper built on top of them.
package crypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const (
	keyLen  = 16
	randLen = 16
	sqnLen  = 6
	amfLen  = 2
)

// ComputeOPc derives OPc = AES-K(OP) XOR OP.
func ComputeOPc(k, op []byte) ([]byte, error) {
	if len(k) != keyLen {
		return nil, fmt.Errorf("crypto: K must be %d bytes, got %d", keyLen, len(k))
	}
	if len(op) != keyLen {
		return nil, fmt.Errorf("crypto: OP must be %d bytes, got %d", keyLen, len(op))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	out := make([]byte, keyLen)
	block.Encrypt(out, op)
	return xor(out, op), nil
}

// F1 computes the network authentication code MAC-A from K, OPc, RAND, SQN and AMF.
func F1(k, opc, rnd, sqn, amf []byte) ([]byte, error) {
	mac, err := f1base(k, opc, rnd, sqn, amf)
	if err != nil {
		return nil, err
	}
	return mac[:8], nil
}

// F1Star computes the resynchronisation authentication code MAC-S.
// Per TS 33.102 6.3.3, amf must be all-zero for a compliant resync AUTS.
func F1Star(k, opc, rnd, sqn, amf []byte) ([]byte, error) {
	mac, err := f1base(k, opc, rnd, sqn, amf)
	if err != nil {
		return nil, err
	}
	return mac[8:], nil
}

// F2345 computes RES, CK, IK and AK from K, OPc and RAND.
func F2345(k, opc, rnd []byte) (res, ck, ik, ak []byte, err error) {
	if err = validate(k, opc, rnd); err != nil {
		return
	}

	in := make([]byte, keyLen)
	for i := 0; i < keyLen; i++ {
		in[i] = rnd[i] ^ opc[i]
	}
	temp, err := encrypt(k, in)
	if err != nil {
		return
	}

	// OUT2: XOR OPc and TEMP, rotate by r2=0, XOR constant c2 (...0001).
	for i := 0; i < keyLen; i++ {
		in[i] = temp[i] ^ opc[i]
	}
	in[15] ^= 1
	out, err := encrypt(k, in)
	if err != nil {
		return
	}
	tmp := xor(out, opc)
	res = tmp[8:]
	ak = tmp[:6]

	// OUT3: rotate by r3=32, XOR constant c3 (...0010).
	for i := 0; i < keyLen; i++ {
		in[(i+12)%keyLen] = temp[i] ^ opc[i]
	}
	in[15] ^= 2
	out, err = encrypt(k, in)
	if err != nil {
		return
	}
	ck = xor(out, opc)

	// OUT4: rotate by r4=64, XOR constant c4 (...0100).
	for i := 0; i < keyLen; i++ {
		in[(i+8)%keyLen] = temp[i] ^ opc[i]
	}
	in[15] ^= 4
	out, err = encrypt(k, in)
	if err != nil {
		return
	}
	ik = xor(out, opc)

	return res, ck, ik, ak, nil
}

// F5Star computes the resynchronisation anonymity key AK*.
func F5Star(k, opc, rnd []byte) ([]byte, error) {
	if err := validate(k, opc, rnd); err != nil {
		return nil, err
	}

	in := make([]byte, keyLen)
	for i := 0; i < keyLen; i++ {
		in[i] = rnd[i] ^ opc[i]
	}
	temp, err := encrypt(k, in)
	if err != nil {
		return nil, err
	}

	// OUT5: rotate by r5=96, XOR constant c5 (...1000).
	for i := 0; i < keyLen; i++ {
		in[(i+4)%keyLen] = temp[i] ^ opc[i]
	}
	in[15] ^= 8
	out, err := encrypt(k, in)
	if err != nil {
		return nil, err
	}
	return xor(out, opc)[:6], nil
}

func f1base(k, opc, rnd, sqn, amf []byte) ([]byte, error) {
	if err := validate(k, opc, rnd); err != nil {
		return nil, err
	}
	if len(sqn) != sqnLen {
		return nil, fmt.Errorf("crypto: SQN must be %d bytes, got %d", sqnLen, len(sqn))
	}
	if len(amf) != amfLen {
		return nil, fmt.Errorf("crypto: AMF must be %d bytes, got %d", amfLen, len(amf))
	}

	in := make([]byte, keyLen)
	for i := 0; i < keyLen; i++ {
		in[i] = rnd[i] ^ opc[i]
	}
	temp, err := encrypt(k, in)
	if err != nil {
		return nil, err
	}

	in1 := make([]byte, keyLen)
	for i := 0; i < sqnLen; i++ {
		in1[i] = sqn[i]
		in1[i+8] = sqn[i]
	}
	for i := 0; i < amfLen; i++ {
		in1[i+6] = amf[i]
		in1[i+14] = amf[i]
	}

	// XOR OPc and IN1, rotate by r1=64, XOR TEMP (constant c1 is all-zero).
	for i := 0; i < keyLen; i++ {
		in[(i+8)%keyLen] = in1[i] ^ opc[i]
	}
	for i := 0; i < keyLen; i++ {
		in[i] ^= temp[i]
	}

	out, err := encrypt(k, in)
	if err != nil {
		return nil, err
	}
	return xor(out, opc), nil
}

func encrypt(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	block.Encrypt(out, plain)
	return out, nil
}

func xor(a, b []byte) []byte {
	l := len(a)
	if len(b) < l {
		l = len(b)
	}
	out := make([]byte, l)
	for i := 0; i < l; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func validate(k, opc, rnd []byte) error {
	if len(k) != keyLen {
		return fmt.Errorf("crypto: K must be %d bytes, got %d", keyLen, len(k))
	}
	if len(opc) != keyLen {
		return fmt.Errorf("crypto: OPc must be %d bytes, got %d", keyLen, len(opc))
	}
	if len(rnd) != randLen {
		return fmt.Errorf("crypto: RAND must be %d bytes, got %d", randLen, len(rnd))
	}
	return nil
}

// GenerateAUTN assembles AUTN = (SQN xor AK) || AMF || MAC-A.
func GenerateAUTN(sqn, ak, amf, macA []byte) []byte {
	autn := make([]byte, 16)
	copy(autn[0:6], xor(sqn, ak))
	copy(autn[6:8], amf)
	copy(autn[8:16], macA)
	return autn
}

// GenerateAUTS assembles AUTS = (SQN_MS xor AK*) || MAC-S, as sent back by the
// UE when it requests resynchronisation.
func GenerateAUTS(sqnMS, aks, macS []byte) []byte {
	auts := make([]byte, 14)
	copy(auts[0:6], xor(sqnMS, aks))
	copy(auts[6:14], macS)
	return auts
}

// XorConcealedSQN recovers a plaintext SQN from a XOR-concealed value and the
// anonymity key used to conceal it (or re-conceals it — XOR is its own inverse).
func XorConcealedSQN(concealed, ak []byte) []byte {
	return xor(concealed, ak)
}

// KASMEFromCKIK derives KASME = HMAC-SHA256(CK || IK, S) where
// S = FC || PLMN-ID(3) || 0x0003 || (SQN xor AK)(6) || 0x0006, FC = 0x10, as
// specified in 3GPP TS 33.401 Annex A.2.
func KASMEFromCKIK(ck, ik, plmnID, sqn, ak []byte) ([]byte, error) {
	if len(ck) != 16 || len(ik) != 16 {
		return nil, fmt.Errorf("crypto: CK and IK must each be 16 bytes")
	}
	if len(plmnID) != 3 {
		return nil, fmt.Errorf("crypto: PLMN-ID must be 3 bytes, got %d", len(plmnID))
	}
	if len(sqn) != sqnLen || len(ak) != sqnLen {
		return nil, fmt.Errorf("crypto: SQN and AK must each be %d bytes", sqnLen)
	}

	key := make([]byte, 0, 32)
	key = append(key, ck...)
	key = append(key, ik...)

	s := make([]byte, 0, 14)
	s = append(s, 0x10)
	s = append(s, plmnID...)
	s = append(s, 0x00, 0x03)
	s = append(s, xor(sqn, ak)...)
	s = append(s, 0x00, 0x06)

	mac := hmac.New(sha256.New, key)
	if _, err := mac.Write(s); err != nil {
		return nil, fmt.Errorf("crypto: KASME HMAC write failed: %w", err)
	}
	return mac.Sum(nil), nil
}

// RandomBytes returns n cryptographically random bytes, used to generate a
// fresh RAND challenge per authentication vector.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: random read failed: %w", err)
	}
	return b, nil
}

// AESCMAC computes AES-CMAC (RFC 4493) over msg using a 128-bit key. This is
// the aes_cmac primitive exposed alongside the MILENAGE functions; MILENAGE
// itself builds MAC-A/MAC-S from block-cipher encryptions rather than CMAC,
// but downstream resync/provisioning tooling that speaks the original
// protocol's AUTS framing expects this primitive to exist standalone.
func AESCMAC(key, msg []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("crypto: CMAC key must be %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	zero := make([]byte, keyLen)
	l := make([]byte, keyLen)
	block.Encrypt(l, zero)

	const rb = 0x87
	k1 := cmacLeftShift(l)
	if l[0]&0x80 != 0 {
		k1[keyLen-1] ^= rb
	}
	k2 := cmacLeftShift(k1)
	if k1[0]&0x80 != 0 {
		k2[keyLen-1] ^= rb
	}

	n := (len(msg) + keyLen - 1) / keyLen
	complete := len(msg) != 0 && len(msg)%keyLen == 0
	if n == 0 {
		n = 1
	}

	padded := make([]byte, n*keyLen)
	copy(padded, msg)
	if !complete {
		padded[len(msg)] = 0x80
	}

	last := padded[(n-1)*keyLen : n*keyLen]
	var mLast []byte
	if complete {
		mLast = xor(last, k1)
	} else {
		mLast = xor(last, k2)
	}

	x := make([]byte, keyLen)
	for i := 0; i < n-1; i++ {
		next, encErr := encrypt(key, xor(x, padded[i*keyLen:(i+1)*keyLen]))
		if encErr != nil {
			return nil, encErr
		}
		x = next
	}
	y := xor(x, mLast)
	tag, err := encrypt(key, y)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// cmacLeftShift left-shifts a 128-bit value by one bit, used to derive the
// AES-CMAC subkeys K1/K2 per RFC 4493 §2.3.
func cmacLeftShift(in []byte) []byte {
	out := make([]byte, len(in))
	for i := range in {
		out[i] = in[i] << 1
		if i+1 < len(in) && in[i+1]&0x80 != 0 {
			out[i] |= 1
		}
	}
	return out
}
