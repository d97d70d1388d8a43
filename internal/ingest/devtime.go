package ingest

import (
	"encoding/json"
	"strings"
	"time"
)

// epochMillisLimit bounds float epochs to the int64 range; values beyond it
// are passed through unconverted.
const epochMillisLimit = 1 << 63

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseDevTime converts a device-reported timestamp. Accepted forms:
// RFC 3339 with any offset, a zone-less date-time read as local time, a bare
// date read as UTC midnight, and epoch milliseconds. Anything else is returned
// unchanged.
func ParseDevTime(v interface{}) interface{} {
	switch raw := v.(type) {
	case string:
		if t, ok := parseDevTimeString(raw); ok {
			return t
		}
		return raw
	case json.Number:
		if ms, err := raw.Int64(); err == nil {
			return time.UnixMilli(ms)
		}
		if f, err := raw.Float64(); err == nil && f >= -epochMillisLimit && f < epochMillisLimit {
			return time.UnixMilli(int64(f))
		}
		return raw
	default:
		return v
	}
}

func parseDevTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
