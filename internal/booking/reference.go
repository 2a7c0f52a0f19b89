package booking

import (
	"crypto/rand"
	"fmt"
	"time"
)

const hexDigits = "0123456789ABCDEF"

// generateReference builds the §4.2 `BKG-YYYY-MMDD-HHMMSS-XXXX` format
// with a 4-hex random suffix, grounded on the same crypto/rand approach
// used elsewhere in this codebase for unpredictable identifiers.
func generateReference(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i, b := range raw {
		suffix[i] = hexDigits[int(b)%len(hexDigits)]
	}
	return fmt.Sprintf("BKG-%s-%s-%s", now.Format("2006-0102"), now.Format("150405"), string(suffix)), nil
}
