package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"guildwarden/internal/fault"
)

var durationPart = regexp.MustCompile(`(\d+)\s*([a-z]*)`)

const day = 24 * time.Hour

// ParseDuration reads compound durations such as "10s", "1h30m" or "2d 4h".
// A bare number counts minutes; "mo" is 30 days and "y" 365 days.
func ParseDuration(raw string) (time.Duration, error) {
	input := strings.ToLower(strings.TrimSpace(raw))
	if input == "" {
		return 0, fault.Input("a duration is required, for example 10m or 1d")
	}
	matches := durationPart.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return 0, fault.Input("%q is not a duration", raw)
	}

	var total time.Duration
	consumed := 0
	for _, m := range matches {
		if strings.TrimSpace(input[consumed:m[0]]) != "" {
			return 0, fault.Input("%q is not a duration", raw)
		}
		consumed = m[1]

		n, err := strconv.ParseInt(input[m[2]:m[3]], 10, 64)
		if err != nil {
			return 0, fault.Input("%q is not a duration", raw)
		}
		unit, ok := durationUnit(input[m[4]:m[5]])
		if !ok {
			return 0, fault.Input("unknown duration unit %q", input[m[4]:m[5]])
		}
		total += time.Duration(n) * unit
	}
	if strings.TrimSpace(input[consumed:]) != "" {
		return 0, fault.Input("%q is not a duration", raw)
	}
	return total, nil
}

func durationUnit(suffix string) (time.Duration, bool) {
	switch {
	case suffix == "":
		return time.Minute, true
	case strings.HasPrefix(suffix, "mo"):
		return 30 * day, true
	case strings.HasPrefix(suffix, "s"):
		return time.Second, true
	case strings.HasPrefix(suffix, "m"):
		return time.Minute, true
	case strings.HasPrefix(suffix, "h"):
		return time.Hour, true
	case strings.HasPrefix(suffix, "d"):
		return day, true
	case strings.HasPrefix(suffix, "w"):
		return 7 * day, true
	case strings.HasPrefix(suffix, "y"):
		return 365 * day, true
	}
	return 0, false
}
