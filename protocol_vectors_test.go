package ipmigo

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property #1 — building and parsing an IPMB envelope round-trips exactly
// and both checksums validate.
func TestIPMBEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		netFn   NetFn
		cmd     uint8
		payload []byte
	}{
		{NetFnAppReq, 0x01, nil},
		{NetFnChassisReq, 0x02, []byte{0x01}},
		{NetFnStorageReq, 0x23, []byte{0x00, 0x01, 0x02, 0x03, 0xff}},
	}

	for _, c := range cases {
		cmd := NewRawCommand("test", c.cmd, NewNetFnRsLUN(c.netFn, 0), c.payload)
		req := &ipmiRequestMessage{RsAddr: bmcSlaveAddress, RqAddr: remoteSWID, RqSeq: 0x08, Command: cmd}

		buf, err := req.Marshal()
		require.NoError(t, err)

		// First checksum covers rsAddr/netFn-rsLUN.
		assert.Equal(t, checksum(buf[0:2]), buf[2])
		// Second checksum covers rqAddr..payload.
		assert.Equal(t, checksum(buf[3:len(buf)-1]), buf[len(buf)-1])

		assert.Equal(t, req.RsAddr, buf[0])
		assert.Equal(t, byte(cmd.NetFnRsLUN()), buf[1])
		assert.Equal(t, req.RqAddr, buf[3])
		assert.Equal(t, req.RqSeq, buf[4])
		assert.Equal(t, cmd.Code(), buf[5])
		if len(c.payload) == 0 {
			assert.Empty(t, buf[6:len(buf)-1])
		} else {
			assert.Equal(t, c.payload, buf[6:len(buf)-1])
		}
	}
}

// Property #2 — flipping any bit of any input to the IPMI 1.5 auth-code
// formula changes the digest.
func TestIPMIV1_5AuthCodeSensitivity(t *testing.T) {
	password := [16]byte{'p', 'a', 's', 's'}
	base := ipmiV1_5AuthCode(authTypeMD5, password, 2, 1, []byte{0x01, 0x02})

	flippedPassword := password
	flippedPassword[0] ^= 0x01
	assert.NotEqual(t, base, ipmiV1_5AuthCode(authTypeMD5, flippedPassword, 2, 1, []byte{0x01, 0x02}))

	assert.NotEqual(t, base, ipmiV1_5AuthCode(authTypeMD5, password, 3, 1, []byte{0x01, 0x02}))
	assert.NotEqual(t, base, ipmiV1_5AuthCode(authTypeMD5, password, 2, 2, []byte{0x01, 0x02}))
	assert.NotEqual(t, base, ipmiV1_5AuthCode(authTypeMD5, password, 2, 1, []byte{0x01, 0x03}))

	// Same inputs always verify equal.
	assert.Equal(t, base, ipmiV1_5AuthCode(authTypeMD5, password, 2, 1, []byte{0x01, 0x02}))
}

// S2 — Empty IPMI 1.5 message, no-auth.
func TestSessionHeaderV1_5UnmarshalNoAuth(t *testing.T) {
	buf := []byte{0x00, 0x01, 0, 0, 0, 0x02, 0, 0, 0, 0x00}

	h := &sessionHeaderV1_5{}
	rest, err := h.Unmarshal(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.Equal(t, authTypeNone, h.authType)
	assert.EqualValues(t, 1, h.sequence)
	assert.EqualValues(t, 2, h.id)
	assert.EqualValues(t, 0, h.payloadLength)
}

// S3 — IPMI 1.5 MD5 authenticated empty message: decodes the header and
// verifies the embedded auth code against the documented formula.
func TestSessionHeaderV1_5UnmarshalMD5AuthCode(t *testing.T) {
	buf := []byte{
		0x02, 0x01, 0, 0, 0, 0x02, 0, 0, 0,
		0x98, 0x36, 0x87, 0x55, 0xBE, 0xE4, 0x26, 0x95,
		0x85, 0x33, 0xC9, 0x17, 0xE8, 0x8C, 0x12, 0xD3,
		0x00,
	}

	h := &sessionHeaderV1_5{}
	rest, err := h.Unmarshal(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.Equal(t, authTypeMD5, h.authType)
	assert.EqualValues(t, 1, h.sequence)
	assert.EqualValues(t, 2, h.id)
	assert.EqualValues(t, 0, h.payloadLength)

	var password [16]byte
	copy(password[:], "password")

	want := ipmiV1_5AuthCode(authTypeMD5, password, h.id, h.sequence, nil)
	assert.Equal(t, want[:], h.authCode[:])
}

// S4 — RMCP+ AES-CBC-128 round trip with a fixed SIK and IV; the cipher key
// is K2 derived from that SIK.
func TestEncryptPayloadWithIVVector(t *testing.T) {
	sik := make([]byte, sikSize)
	for i := range sik {
		sik[i] = 0x01
	}
	mac := hmac.New(sha1.New, sik)
	mac.Write(const2[:])
	key := mac.Sum(nil)

	iv := make([]byte, aes.BlockSize)
	for i := range iv {
		iv[i] = byte(i + 1)
	}

	out, err := encryptPayloadWithIV(nil, key, iv)
	require.NoError(t, err)
	require.Len(t, out, 32)

	want, err := hex.DecodeString("0102030405060708090a0b0c0d0e0f10" +
		"c9598e59d1d11c23c98806c43b7cf5ad")
	require.NoError(t, err)
	assert.Equal(t, want, out)

	dec, err := decryptPayload(out, key)
	require.NoError(t, err)
	assert.Empty(t, dec)
}

// Property #3 — for payload lengths 0..64, the confidentiality trailer's
// pad length follows the documented formula and decryption round-trips.
func TestEncryptPayloadPaddingProperty(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}

	for n := 0; n <= 64; n++ {
		src := make([]byte, n)
		for i := range src {
			src[i] = byte(i)
		}

		out, err := encryptPayload(src, key)
		require.NoError(t, err)

		wantPad := (16 - ((n + 1) % 16)) % 16
		gotPayloadLen := len(out) - aes.BlockSize
		assert.Equal(t, n+wantPad+1, gotPayloadLen, "n=%d", n)

		dec, err := decryptPayload(out, key)
		require.NoError(t, err)
		assert.Equal(t, src, dec, "n=%d", n)
	}
}

// Property #4 — the integrity-covered trailer length is always a multiple
// of 4 once pad + pad-length + next-header(0x07) are added.
func TestMakeTrailerIntegrityPadding(t *testing.T) {
	key := []byte("a-test-integrity-key")

	for n := 0; n <= 40; n++ {
		src := make([]byte, n)
		trailer := makeTrailer(src, key)

		// trailer = pad + padLen(1) + nextHeader(1) + authCode(12)
		padAndHeader := len(trailer) - integrityCheckSize
		assert.Equal(t, 0, (n+padAndHeader)%4, "n=%d padAndHeader=%d", n, padAndHeader)
		assert.EqualValues(t, 0x07, trailer[padAndHeader-1])
	}
}

// S5 — ASF Pong parse: the Supported Entities IPMI bit decodes to true.
func TestPongMessageSupportedIPMI(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x11, 0xBE, // IANA enterprise number 4542, big-endian
		0x00, 0x00, 0x00, 0x00, // OEM-defined
		0x80,                   // Supported Entities: ipmi-supported bit set
		0x00,                   // Supported Interactions
		0, 0, 0, 0, 0, 0, // Reserved
	}

	p := &pongMessage{}
	rest, err := p.Unmarshal(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.EqualValues(t, 4542, p.IANA)
	assert.True(t, p.SupportedIPMI())
}

func TestPongMessageNotSupportedIPMI(t *testing.T) {
	buf := make([]byte, pongBodySize)
	p := &pongMessage{}
	_, err := p.Unmarshal(buf)
	require.NoError(t, err)
	assert.False(t, p.SupportedIPMI())
}

// S1 — GetDeviceId response parse.
func TestGetDeviceIDCommandUnmarshal(t *testing.T) {
	c := &GetDeviceIDCommand{}
	buf := []byte{0x20, 0x01, 0x03, 0x02, 0x02, 0x02, 0x0F, 0x5D, 0x00, 0x00, 0x00}

	_, err := c.Unmarshal(buf)
	require.NoError(t, err)

	assert.EqualValues(t, 0x20, c.DeviceID)
	assert.EqualValues(t, 1, c.DeviceRevision)
	assert.EqualValues(t, 3, c.FirmwareMajorRevision)
	assert.EqualValues(t, 2, c.FirmwareMinorRevision)
	assert.EqualValues(t, 2, c.IPMIVersion)
}

// S6 — completion-code surfacing through CommandError.
func TestCommandErrorCompletionCode(t *testing.T) {
	cmd := &GetSELEntryCommand{}
	err := &CommandError{CompletionCode: CompletionTimeout, Command: cmd}
	assert.Contains(t, err.Error(), "Timeout")

	unknown := &CommandError{CompletionCode: CompletionCode(0x80), Command: cmd}
	assert.Contains(t, unknown.Error(), "0x80")
}

// Property #6 — NetFn pairing on hand-built responses: a matching response
// carries the request NetFn+1 and the same command code, a wrong NetFn or
// command code compares unequal, and UnexpectedResponseError reports an
// "unexpected response".
func TestUnexpectedResponseErrorDetection(t *testing.T) {
	cmd := NewRawCommand("test", 0x01, NewNetFnRsLUN(NetFnAppReq, 0), nil)

	wantNetFn := NetFn(byte(cmd.NetFnRsLUN().NetFn()) + 1)

	// Matching response: no mismatch.
	rsm := &ipmiResponseMessage{
		NetFnRsRUN: NewNetFnRsLUN(wantNetFn, 0),
		Code:       cmd.Code(),
	}
	gotNetFn := rsm.NetFnRsRUN.NetFn()
	assert.Equal(t, wantNetFn, gotNetFn)
	assert.Equal(t, cmd.Code(), rsm.Code)

	// Mismatched NetFn.
	badNetFn := &ipmiResponseMessage{
		NetFnRsRUN: NewNetFnRsLUN(NetFnStorageRes, 0),
		Code:       cmd.Code(),
	}
	assert.NotEqual(t, wantNetFn, badNetFn.NetFnRsRUN.NetFn())

	// Mismatched command code, correct NetFn.
	badCmd := &ipmiResponseMessage{
		NetFnRsRUN: NewNetFnRsLUN(wantNetFn, 0),
		Code:       cmd.Code() + 1,
	}
	assert.NotEqual(t, cmd.Code(), badCmd.Code)

	e := &UnexpectedResponseError{
		SentNetFn: cmd.NetFnRsLUN().NetFn(), SentCmd: cmd.Code(),
		RecvNetFn: badNetFn.NetFnRsRUN.NetFn(), RecvCmd: badNetFn.Code,
	}
	assert.Contains(t, e.Error(), "unexpected response")
}
