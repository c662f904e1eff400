package ipmigo

import "crypto/md5"

// MD2 message digest (RFC 1319). Go's standard library does not provide MD2,
// but IPMI 1.5 session authentication requires it as a legacy auth type
// alongside MD5, so it is implemented here from the RFC's permutation table.

var md2STable = [256]byte{
	0x29, 0x2E, 0x43, 0xC9, 0xA2, 0xD8, 0x7C, 0x01, 0x3D, 0x36, 0x54, 0xA1, 0xEC, 0xF0, 0x06, 0x13,
	0x62, 0xA7, 0x05, 0xF3, 0xC0, 0xC7, 0x73, 0x8C, 0x98, 0x93, 0x2B, 0xD9, 0xBC, 0x4C, 0x82, 0xCA,
	0x1E, 0x9B, 0x57, 0x3C, 0xFD, 0xD4, 0xE0, 0x16, 0x67, 0x42, 0x6F, 0x18, 0x8A, 0x17, 0xE5, 0x12,
	0xBE, 0x4E, 0xC4, 0xD6, 0xDA, 0x9E, 0xDE, 0x49, 0xA0, 0xFB, 0xF5, 0x8E, 0xBB, 0x2F, 0xEE, 0x7A,
	0xA9, 0x68, 0x79, 0x91, 0x15, 0xB2, 0x07, 0x3F, 0x94, 0xC2, 0x10, 0x89, 0x0B, 0x22, 0x5F, 0x21,
	0x80, 0x7F, 0x5D, 0x9A, 0x5A, 0x90, 0x32, 0x27, 0x35, 0x3E, 0xCC, 0xE7, 0xBF, 0xF7, 0x97, 0x03,
	0xFF, 0x19, 0x30, 0xB3, 0x48, 0xA5, 0xB5, 0xD1, 0xD7, 0x5E, 0x92, 0x2A, 0xAC, 0x56, 0xAA, 0xC6,
	0x4F, 0xB8, 0x38, 0xD2, 0x96, 0xA4, 0x7D, 0xB6, 0x76, 0xFC, 0x6B, 0xE2, 0x9C, 0x74, 0x04, 0xF1,
	0x45, 0x9D, 0x70, 0x59, 0x64, 0x71, 0x87, 0x20, 0x86, 0x5B, 0xCF, 0x65, 0xE6, 0x2D, 0xA8, 0x02,
	0x1B, 0x60, 0x25, 0xAD, 0xAE, 0xB0, 0xB9, 0xF6, 0x1C, 0x46, 0x61, 0x69, 0x34, 0x40, 0x7E, 0x0F,
	0x55, 0x47, 0xA3, 0x23, 0xDD, 0x51, 0xAF, 0x3A, 0xC3, 0x5C, 0xF9, 0xCE, 0xBA, 0xC5, 0xEA, 0x26,
	0x2C, 0x53, 0x0D, 0x6E, 0x85, 0x28, 0x84, 0x09, 0xD3, 0xDF, 0xCD, 0xF4, 0x41, 0x81, 0x4D, 0x52,
	0x6A, 0xDC, 0x37, 0xC8, 0x6C, 0xC1, 0xAB, 0xFA, 0x24, 0xE1, 0x7B, 0x08, 0x0C, 0xBD, 0xB1, 0x4A,
	0x78, 0x88, 0x95, 0x8B, 0xE3, 0x63, 0xE8, 0x6D, 0xE9, 0xCB, 0xD5, 0xFE, 0x3B, 0x00, 0x1D, 0x39,
	0xF2, 0xEF, 0xB7, 0x0E, 0x66, 0x58, 0xD0, 0xE4, 0xA6, 0x77, 0x72, 0xF8, 0xEB, 0x75, 0x4B, 0x0A,
	0x31, 0x44, 0x50, 0xB4, 0x8F, 0xED, 0x1F, 0x1A, 0xDB, 0x99, 0x8D, 0x33, 0x9F, 0x11, 0x83, 0x14,
}

// md2Sum returns the 16-byte MD2 digest of data.
func md2Sum(data []byte) [16]byte {
	var digest [48]byte
	var checksum [16]byte

	pad := 16 - len(data)%16
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	for off := 0; off < len(padded); off += 16 {
		chunk := padded[off : off+16]
		md2Checksum(chunk, &checksum)
		md2Compress(chunk, &digest)
	}
	md2Compress(checksum[:], &digest)

	var out [16]byte
	copy(out[:], digest[:16])
	return out
}

func md2Compress(chunk []byte, digest *[48]byte) {
	copy(digest[16:32], chunk)
	for j := 0; j < 16; j++ {
		digest[32+j] = digest[16+j] ^ digest[j]
	}

	var t byte
	for j := 0; j < 18; j++ {
		for k := 0; k < 48; k++ {
			t = digest[k] ^ md2STable[t]
			digest[k] = t
		}
		t += byte(j)
	}
}

func md2Checksum(chunk []byte, checksum *[16]byte) {
	l := checksum[15]
	for j := 0; j < 16; j++ {
		checksum[j] ^= md2STable[chunk[j]^l]
		l = checksum[j]
	}
}

// ipmiV1_5AuthCode computes the per-packet authentication code for IPMI 1.5
// sessions (Section 22.17.1): Hash(password | sessionID | payload |
// sessionSeq | password), where the hash is MD2, MD5, or the identity for
// straight-password auth type.
func ipmiV1_5AuthCode(t authType, password [16]byte, sessionID, sessionSeq uint32, payload []byte) [16]byte {
	if t == authTypePassword {
		return password
	}

	data := make([]byte, 0, 16+4+len(payload)+4+16)
	data = append(data, password[:]...)
	data = appendUint32LE(data, sessionID)
	data = append(data, payload...)
	data = appendUint32LE(data, sessionSeq)
	data = append(data, password[:]...)

	if t == authTypeMD2 {
		return md2Sum(data)
	}
	return md5.Sum(data)
}

func appendUint32LE(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
