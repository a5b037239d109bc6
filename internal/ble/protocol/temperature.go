// Package protocol decodes the sensor's temperature characteristic payload.
//
// The sensor firmware exposes its current reading as ASCII decimal text
// (for example "23.47"), optionally NUL-padded to the characteristic length.
package protocol

import (
	"math"
	"strconv"
	"strings"
)

// IsEmpty reports whether a payload carries no reading at all.
func IsEmpty(payload []byte) bool {
	return len(strings.Trim(string(payload), "\x00 \t\r\n")) == 0
}

// DecodeTemperature parses a payload into degrees Celsius rounded to two
// decimals. Any trailing non-numeric text (units, padding) is ignored.
// Payloads without a leading number decode to NaN rather than failing so a
// display bound to the value keeps working.
func DecodeTemperature(payload []byte) float64 {
	text := strings.TrimLeft(strings.Trim(string(payload), "\x00"), " \t\r\n")
	prefix := numericPrefix(text)
	if prefix == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return math.Round(v*100) / 100
}

// EncodeTemperature renders a reading the way the firmware does.
func EncodeTemperature(celsius float64) []byte {
	return []byte(strconv.FormatFloat(celsius, 'f', 2, 64))
}

// numericPrefix returns the longest prefix of s that looks like a decimal
// number: optional sign, digits, optional fraction, optional exponent.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}
	return s[:end]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
