// Package util provides utility functions for the LoanPipe application.
package util

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

// GenerateRandomDigits returns a random numeric string of the given length
// with no leading zero. Uses math/rand/v2; codes are not security tokens.
func GenerateRandomDigits(length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)
	builder.WriteByte(byte('1' + rand.IntN(9)))
	for i := 1; i < length; i++ {
		builder.WriteByte(byte('0' + rand.IntN(10)))
	}
	return builder.String()
}

// GenerateOTP returns a 4-digit one-time code in [1000, 9999].
func GenerateOTP() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}
