package scanners

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

func digitsOf(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

func isValidUSPhone(s string) bool {
	digits := digitsOf(s)

	// Should be 10 or 11 digits (with country code)
	if len(digits) < 10 || len(digits) > 11 {
		return false
	}
	if len(digits) == 11 {
		if digits[0] != '1' {
			return false
		}
		digits = digits[1:]
	}

	// Area code shouldn't start with 0 or 1
	return digits[0] != '0' && digits[0] != '1'
}

func isValidSSN(s string) bool {
	digits := digitsOf(s)
	if len(digits) != 9 {
		return false
	}

	area, _ := strconv.Atoi(digits[0:3])
	group, _ := strconv.Atoi(digits[3:5])
	serial, _ := strconv.Atoi(digits[5:9])

	// Area number cannot be 000, 666, or 900-999
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	return group != 0 && serial != 0
}

func isValidCreditCard(s string) bool {
	return luhnCheck(digitsOf(s))
}

func luhnCheck(number string) bool {
	if len(number) < 13 || len(number) > 19 {
		return false
	}

	sum := 0
	isSecond := false

	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}

		if isSecond {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}

		sum += d
		isSecond = !isSecond
	}

	return sum%10 == 0
}

// isPublicIP reports whether a dotted IPv4 address is outside the loopback,
// private and reserved ranges.
func isPublicIP(s string) bool {
	localPrefixes := []string{
		"127.", "10.", "192.168.", "169.254.", "0.",
		"172.16.", "172.17.", "172.18.", "172.19.", "172.20.",
		"172.21.", "172.22.", "172.23.", "172.24.", "172.25.",
		"172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"255.255.255.255",
	}
	for _, prefix := range localPrefixes {
		if strings.HasPrefix(s, prefix) {
			return false
		}
	}
	return true
}

// calculateEntropy calculates the Shannon entropy of a string in bits per
// symbol.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len([]rune(s)))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// byteEntropy is the Shannon entropy of raw bytes, 0 to 8.
func byteEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	var entropy float64
	n := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// isLikelyNotSecret filters long identifiers made of ordinary words.
func isLikelyNotSecret(s string) bool {
	lower := strings.ToLower(s)
	skipPatterns := []string{
		"application", "documentation", "configuration",
		"implementation", "authentication", "authorization",
		"organization", "notification", "specification",
	}
	for _, pattern := range skipPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	hasDigit, hasLetter := false, false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			hasLetter = true
		}
	}
	return !hasDigit || !hasLetter
}
