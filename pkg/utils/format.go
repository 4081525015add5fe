// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// Grouping selects digit grouping for large numbers.
type Grouping int

const (
	// GroupWestern groups digits in threes: 12,345,678.
	GroupWestern Grouping = iota
	// GroupIndian groups the last three digits then pairs: 1,23,45,678.
	GroupIndian
)

// FormatPrice formats a price with two decimals and grouped digits.
func FormatPrice(amount float64, g Grouping) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := groupDigits(intPart, g) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// FormatVolume formats a traded volume with grouped digits.
func FormatVolume(v int64, g Grouping) string {
	if v < 0 {
		return "-" + groupDigits(fmt.Sprintf("%d", -v), g)
	}
	return groupDigits(fmt.Sprintf("%d", v), g)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatDuration renders d as "3d 4h", "2h 15m", "5m 30s" or "45s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Round(time.Second)

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func groupDigits(s string, g Grouping) string {
	if g == GroupIndian {
		return formatIndianNumber(s)
	}

	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatIndianNumber formats an integer string in the Indian numbering system.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right
	result := s[n-3:]
	s = s[:n-3]

	// Then groups of 2
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}
