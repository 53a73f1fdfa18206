package meeting

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	letterChars = "ABCDEFGHJKLMNPQRSTUVWXYZ" // Removed ambiguous I and O
	digitChars  = "0123456789"
)

// generateRoomID returns an identifier shaped like "ABC-123-XYZ".
func generateRoomID() (string, error) {
	var b strings.Builder
	groups := []string{letterChars, digitChars, letterChars}
	for g, charset := range groups {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < 3; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
			if err != nil {
				return "", err
			}
			b.WriteByte(charset[n.Int64()])
		}
	}
	return b.String(), nil
}

// NormalizeRoomID upper-cases and trims user input before validation.
func NormalizeRoomID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
