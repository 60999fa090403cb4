//nolint:mnd
package webserver

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// avgIndexTime returns a string of the average time to index a container.
func (d *Dashboard) avgIndexTime() string {
	m := d.zips.Metrics

	return time.Duration(m.TotalIndexTime.Load() / max(1, m.TotalOpenedContainers.Load())).String()
}

// avgExtractTime returns a string of the average extraction time.
func (d *Dashboard) avgExtractTime() string {
	m := d.zips.Metrics

	return time.Duration(m.TotalExtractTime.Load() / max(1, m.TotalExtractCount.Load())).String()
}

// avgExtractSpeed returns a string of the average extraction throughput.
func (d *Dashboard) avgExtractSpeed() string {
	bytes := d.zips.Metrics.TotalExtractBytes.Load()
	ns := d.zips.Metrics.TotalExtractTime.Load()

	if ns <= 0 || bytes <= 0 {
		return "0 B/s"
	}

	bps := float64(bytes) / (float64(ns) / 1e9)

	return humanize.IBytes(uint64(bps)) + "/s"
}

// imaginaryHitRatio returns a string of the imaginary node cache hit/miss ratio.
func (d *Dashboard) imaginaryHitRatio() string {
	hits := d.zips.Metrics.TotalImaginaryHits.Load()
	misses := d.zips.Metrics.TotalImaginaryMisses.Load()
	total := hits + misses

	if total == 0 {
		return "0.00%"
	}

	perc := (float64(hits) / float64(total)) * 100

	return fmt.Sprintf("%.2f%%", perc)
}

// nonNegativeBytes returns a string of a byte counter.
func nonNegativeBytes(bytes int64) string {
	if bytes < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(bytes))
}

// charsetName returns the configured charset or its default.
func charsetName(name string) string {
	if name == "" {
		return "UTF-8 / CP437"
	}

	return name
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}
