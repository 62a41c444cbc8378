package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "30s", "15m", "1h", "1d", "1w" into time.Duration.
// Go duration strings such as "1h30m" are accepted as well.
func ParseIntervalDuration(interval string) (time.Duration, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, fmt.Errorf("interval is empty")
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	n, err := strconv.Atoi(numStr)
	if err != nil {
		d, perr := time.ParseDuration(interval)
		if perr != nil || d <= 0 {
			return 0, fmt.Errorf("unsupported interval %q", interval)
		}
		return d, nil
	}
	if n <= 0 {
		return 0, fmt.Errorf("interval must be positive: %q", interval)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval unit %q", string(unit))
	}
}
