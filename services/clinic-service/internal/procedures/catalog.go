package procedures

import (
	"strconv"
	"strings"
	"time"
)

const DefaultDuration = 30 * time.Minute

// Catalog maps procedure names to their standard chair time. It is
// immutable after construction; unknown names fall back to the default.
type Catalog struct {
	durations map[string]time.Duration
	fallback  time.Duration
}

// Default returns the clinic's standard procedure table.
func Default() Catalog {
	return New(map[string]time.Duration{
		"Muayene":             30 * time.Minute,
		"Diş Taşı Temizliği":  30 * time.Minute,
		"Diş Çekimi":          30 * time.Minute,
		"Dolgu":               45 * time.Minute,
		"Kanal Tedavisi":      60 * time.Minute,
		"İmplant":             90 * time.Minute,
	})
}

func New(durations map[string]time.Duration) Catalog {
	m := make(map[string]time.Duration, len(durations))
	for name, d := range durations {
		name = strings.TrimSpace(name)
		if name == "" || d <= 0 {
			continue
		}
		m[name] = d
	}
	return Catalog{durations: m, fallback: DefaultDuration}
}

// FromEnv overlays "Name=minutes" pairs (comma separated) onto the default
// table, so deployments can tune durations without a rebuild. Malformed
// pairs are skipped.
func FromEnv(raw string) Catalog {
	cat := Default()
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, minsRaw, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		mins, err := strconv.Atoi(strings.TrimSpace(minsRaw))
		if name == "" || err != nil || mins <= 0 {
			continue
		}
		cat.durations[name] = time.Duration(mins) * time.Minute
	}
	return cat
}

// Duration returns the standard duration for a procedure, or the default
// for names not in the table. Unknown procedures are not an error.
func (c Catalog) Duration(procedure string) time.Duration {
	if d, ok := c.durations[strings.TrimSpace(procedure)]; ok {
		return d
	}
	if c.fallback > 0 {
		return c.fallback
	}
	return DefaultDuration
}

// Names lists the catalog's procedure names (unordered).
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.durations))
	for name := range c.durations {
		names = append(names, name)
	}
	return names
}
