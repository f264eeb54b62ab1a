package conflict

import "time"

// markerFormat matches the fixed-width ISO-8601 form the authority
// emits (millisecond precision, always UTC). Fixed width keeps lexical
// comparison equivalent to chronological comparison, which the
// detection contract relies on. Clock skew between client and server
// remains a known weakness of this scheme; it is preserved here, not
// strengthened.
const markerFormat = "2006-01-02T15:04:05.000Z"

// FreshMarker generates a modification marker strictly newer than every
// marker in after. Normally that is just the current time; when an
// input marker is in the future (skewed clock), the result is bumped
// past it so the delivered record always reads as the latest write.
func FreshMarker(after ...string) string {
	t := time.Now().UTC()

	for _, m := range after {
		parsed, err := parseMarker(m)
		if err != nil {
			continue
		}

		if !t.After(parsed) {
			t = parsed.Add(time.Millisecond)
		}
	}

	return t.Format(markerFormat)
}

// markerNewer reports whether a is strictly newer than b. Markers are
// compared lexically, matching the source contract.
func markerNewer(a, b string) bool {
	return a > b
}

func parseMarker(s string) (time.Time, error) {
	if t, err := time.Parse(markerFormat, s); err == nil {
		return t, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}
