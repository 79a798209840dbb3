// Package uuid provides UUID v7 identifiers in canonical string form.
// The leading 48-bit millisecond timestamp keeps ids sortable by creation
// time, which the catalog and audit tables rely on for index locality.
package uuid

import (
	crand "crypto/rand"
	"fmt"
	"time"
)

// CanonicalLen is the length of the canonical string form.
const CanonicalLen = 36

// NewV7 generates a UUID v7 (draft-ietf-uuidrev-rfc4122bis) and returns its
// canonical xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form:
//   - 48 bits UNIX timestamp in milliseconds
//   - 4 bits version (0111), 12 bits random
//   - 2 bits variant (10), 62 bits random
func NewV7() string {
	return string(newBytes().format())
}

type raw [16]byte

func newBytes() raw {
	var u raw

	now := time.Now().UnixMilli()
	u[0] = byte(now >> 40)
	u[1] = byte(now >> 32)
	u[2] = byte(now >> 24)
	u[3] = byte(now >> 16)
	u[4] = byte(now >> 8)
	u[5] = byte(now)

	// crypto/rand never fails on supported platforms; a short read here
	// means the OS entropy source is broken and nothing sensible can run.
	if _, err := crand.Read(u[6:]); err != nil {
		panic(fmt.Sprintf("uuid: entropy source unavailable: %v", err))
	}

	u[6] = 0x70 | (u[6] & 0x0f) // version 7
	u[7] = 0x80 | (u[7] & 0x3f) // RFC 4122 variant

	return u
}

func (u raw) format() []byte {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, CanonicalLen)
	j := 0
	for i, b := range u {
		if i == 4 || i == 6 || i == 8 || i == 10 {
			out[j] = '-'
			j++
		}
		out[j] = hexDigits[b>>4]
		out[j+1] = hexDigits[b&0x0f]
		j += 2
	}
	return out
}
