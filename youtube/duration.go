package youtube

import (
	"fmt"
	"regexp"
	"strconv"
)

var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration converts an ISO-8601 duration such as "PT1H2M3S" to whole
// seconds. Fractional seconds are truncated.
func ParseDuration(s string) (int64, error) {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("youtube: invalid duration %q", s)
	}

	units := []int64{7 * 86400, 86400, 3600, 60}
	var total int64
	for i, mult := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("youtube: invalid duration %q: %w", s, err)
		}
		total += n * mult
	}
	if m[5] != "" {
		secs, err := strconv.ParseFloat(m[5], 64)
		if err != nil {
			return 0, fmt.Errorf("youtube: invalid duration %q: %w", s, err)
		}
		total += int64(secs)
	}
	return total, nil
}

// FormatDuration renders seconds as H:MM:SS, e.g. 65 -> "0:01:05".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
