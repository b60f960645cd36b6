package format

import (
	"strconv"
	"time"
)

// timeUnits are the units used for durations, largest first.
var timeUnits = [...]struct {
	size   time.Duration
	suffix byte
}{
	{24 * time.Hour, 'd'},
	{time.Hour, 'h'},
	{time.Minute, 'm'},
	{time.Second, 's'},
}

// unitFor returns the index of the largest unit not exceeding d, or the
// seconds unit when d is below a second.
func unitFor(d time.Duration) int {
	i := 0
	for i < len(timeUnits)-1 && d < timeUnits[i].size {
		i++
	}
	return i
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// AppendDuration appends d in its two most significant units ("3d 4h",
// "5m 30s"), or in whole seconds below a minute. The sign is dropped and
// anything under a second is "0s".
func AppendDuration(dst []byte, d time.Duration) []byte {
	d = abs(d)
	i := unitFor(d)
	hi := timeUnits[i]
	dst = strconv.AppendInt(dst, int64(d/hi.size), 10)
	dst = append(dst, hi.suffix)
	if i+1 < len(timeUnits) {
		lo := timeUnits[i+1]
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(d%hi.size/lo.size), 10)
		dst = append(dst, lo.suffix)
	}
	return dst
}

// Duration is AppendDuration as a string.
func Duration(d time.Duration) string {
	return string(AppendDuration(nil, d))
}

// Ago describes how long before now t was, in its largest unit: "45s ago",
// "3h ago". Under ten seconds it is "just now"; the zero time is "never".
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := abs(now.Sub(t))
	if d < 10*time.Second {
		return "just now"
	}
	u := timeUnits[unitFor(d)]
	b := strconv.AppendInt(make([]byte, 0, 16), int64(d/u.size), 10)
	return string(append(b, u.suffix, ' ', 'a', 'g', 'o'))
}
