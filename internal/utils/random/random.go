package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const upperAlphaNum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// UpperAlphaNum generates a random uppercase alphanumeric string.
// Used for payment and refund number suffixes.
func UpperAlphaNum(length int) string {
	if length <= 0 {
		return ""
	}
	result := make([]byte, length)
	max := big.NewInt(int64(len(upperAlphaNum)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			panic(fmt.Sprintf("random: %v", err))
		}
		result[i] = upperAlphaNum[n.Int64()]
	}
	return string(result)
}
