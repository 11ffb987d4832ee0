package collab

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// inviteAlphabet deliberately omits visually ambiguous characters
// (I, O, 0, 1) so codes survive being read aloud or retyped.
const (
	inviteAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength = 6
)

// colorPalette holds the fixed set of participant colors. Assignment is
// first-available; once exhausted a random palette entry is reused.
var colorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
	"#F08080", "#82E0AA", "#F8C471", "#AED6F1", "#D7BDE2",
}

// GenerateID returns a cryptographically strong hex identifier of
// lengthBytes random bytes. Collisions are treated as negligible; there is
// no detection or retry.
func GenerateID(lengthBytes int) (string, error) {
	buf := make([]byte, lengthBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateInviteCode returns a short human-typable code with each position
// drawn uniformly from the invite alphabet. Codes are uppercase by
// construction; lookups normalise to uppercase to match.
func GenerateInviteCode() (string, error) {
	code := make([]byte, inviteCodeLength)
	alphabetLen := big.NewInt(int64(len(inviteAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("identity: generate invite code: %w", err)
		}
		code[i] = inviteAlphabet[n.Int64()]
	}
	return string(code), nil
}

// AssignColor picks the first palette entry not present in existing. When
// the palette is exhausted it falls back to a random palette entry;
// uniqueness is a best-effort nicety, not an invariant.
func AssignColor(existing map[string]struct{}) string {
	for _, color := range colorPalette {
		if _, used := existing[color]; !used {
			return color
		}
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(colorPalette))))
	if err != nil {
		return colorPalette[0]
	}
	return colorPalette[n.Int64()]
}
