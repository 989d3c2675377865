package auction

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
)

const codeLength = 8

// GenerateCode produces a short, human-shareable auction code such as
// "AH-K3Q7ZD". Uniqueness is enforced by the database constraint on the
// column; callers retry on a collision.
func GenerateCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	suffix := strings.ToUpper(base36encode(bytes))
	if n := codeLength - 2 - len(suffix); n > 0 {
		suffix = strings.Repeat("0", n) + suffix
	}
	return "AH-" + suffix[:codeLength-2], nil
}

func base36encode(bytes []byte) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var result string
	number := binary.BigEndian.Uint32(bytes)

	for number > 0 {
		result = string(alphabet[number%36]) + result
		number /= 36
	}

	return result
}
