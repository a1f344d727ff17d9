// Package stats holds the running totals fed by the stream dispatcher.
package stats

import "fmt"

// Counters are non-negative running totals. They only ever grow.
type Counters struct {
	Packets uint64
	Bytes   uint64
	Alerts  uint64
}

// AddTraffic records one packet of the given size. Negative sizes count as 0.
func (c *Counters) AddTraffic(size int64) {
	c.Packets++
	if size > 0 {
		c.Bytes += uint64(size)
	}
}

// AddAlert records one alert.
func (c *Counters) AddAlert() {
	c.Alerts++
}

var byteUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders a byte count with the largest base-1024 unit that keeps
// the value at or above 1, using two decimals. Zero is "0 B".
func FormatBytes(n uint64) string {
	if n == 0 {
		return "0 B"
	}
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, byteUnits[unit])
}
