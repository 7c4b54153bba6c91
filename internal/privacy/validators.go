package privacy

import (
	"errors"
	"math"
	"net/netip"
	"strings"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
)

// IsValidLuhn reports whether the digits in value form a 13-19 digit
// sequence that passes the mod-10 checksum. Separators are ignored.
func IsValidLuhn(value string) bool {
	digits := digitsOnly(value)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}

	return sum%10 == 0
}

// IsValidSSN rejects numbers the SSA never issues: area 000, 666 or 900-999,
// group 00 and serial 0000.
func IsValidSSN(value string) bool {
	digits := digitsOnly(value)
	if len(digits) != 9 {
		return false
	}

	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// IsValidIPv4 reports whether value is a dotted-quad IPv4 address
func IsValidIPv4(value string) bool {
	addr, err := netip.ParseAddr(value)
	return err == nil && addr.Is4()
}

// IsValidIPv6 reports whether value is an IPv6 address (not an IPv4-in-IPv6 quad alone)
func IsValidIPv6(value string) bool {
	addr, err := netip.ParseAddr(value)
	return err == nil && addr.Is6() && strings.Count(value, ":") >= 2
}

// IsJWTShaped reports whether value decodes as a JSON Web Token. Signatures are not verified;
// an unknown or missing algorithm still counts as token-shaped.
func IsJWTShaped(value string) bool {
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(value, jwt.MapClaims{})
	if err == nil {
		return true
	}
	return errors.Is(err, jwt.ErrTokenUnverifiable)
}

// IsMixedAlphanumeric requires at least one letter and one digit
func IsMixedAlphanumeric(value string) bool {
	var letter, digit bool
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
		if letter && digit {
			return true
		}
	}
	return false
}

// IsHighEntropySecret accepts base64-looking strings with mixed character classes
// and Shannon entropy of at least 4 bits per character.
func IsHighEntropySecret(value string) bool {
	var upper, lower, digit bool
	for _, r := range value {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return false
	}
	return ShannonEntropy(value) >= 4.0
}

// ShannonEntropy returns the entropy of value in bits per character
func ShannonEntropy(value string) float64 {
	if value == "" {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, r := range value {
		freq[r]++
		total++
	}

	entropy := 0.0
	length := float64(total)
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// Capitalized words that start or end a run but are not part of a personal name
var nameStopwords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "dear": true, "thanks": true, "thank": true,
	"please": true, "the": true, "this": true, "that": true, "these": true, "those": true,
	"and": true, "but": true, "or": true, "if": true, "when": true, "then": true,
	"my": true, "our": true, "your": true, "his": true, "her": true, "their": true,
	"good": true, "best": true, "kind": true, "happy": true, "new": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "january": true, "february": true, "march": true,
	"april": true, "june": true, "july": true, "august": true, "september": true,
	"october": true, "november": true, "december": true,
	"street": true, "avenue": true, "road": true, "boulevard": true, "lane": true,
	"university": true, "college": true, "school": true, "hospital": true, "institute": true,
	"inc": true, "llc": true, "ltd": true, "company": true, "bank": true, "group": true,
	"city": true, "county": true, "state": true, "park": true, "airport": true, "station": true,
	"center": true, "centre": true,
}

// IsPlausibleName rejects capitalized runs containing greetings, determiners,
// calendar words or place words.
func IsPlausibleName(value string) bool {
	tokens := strings.Fields(value)
	if len(tokens) < 2 {
		return false
	}
	for _, token := range tokens {
		if nameStopwords[strings.ToLower(token)] {
			return false
		}
	}
	return true
}

// validatorsByName lets custom rule files refer to built-in validators
var validatorsByName = map[string]Validator{
	"luhn":         IsValidLuhn,
	"ssn":          IsValidSSN,
	"ipv4":         IsValidIPv4,
	"ipv6":         IsValidIPv6,
	"jwt":          IsJWTShaped,
	"alphanumeric": IsMixedAlphanumeric,
	"entropy":      IsHighEntropySecret,
	"name":         IsPlausibleName,
}

func digitsOnly(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] >= '0' && value[i] <= '9' {
			b.WriteByte(value[i])
		}
	}
	return b.String()
}
