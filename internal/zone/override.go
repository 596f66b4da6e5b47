package zone

// Override names a condition that modifies or suspends regulation.
type Override string

const (
	OverrideContact      Override = "contact"
	OverrideHumidity     Override = "humidity"
	OverrideNightSetback Override = "night_setback"
	OverridePreheat      Override = "preheat"
)

// overridePriority is a literal table carried over from field-proven
// configuration; the order is asserted, not derived. Lower value wins.
var overridePriority = map[Override]int{
	OverrideContact:      0,
	OverrideHumidity:     1,
	OverrideNightSetback: 2,
	OverridePreheat:      3,
}

// ParseOverride maps a wire string to an override kind.
func ParseOverride(s string) (Override, bool) {
	o := Override(s)
	_, ok := overridePriority[o]
	return o, ok
}

// Winner returns the highest-priority override of the active set, or ""
// when none are active.
func Winner(active map[Override]bool) Override {
	best := Override("")
	bestPrio := len(overridePriority)
	for o, on := range active {
		if !on {
			continue
		}
		if p, ok := overridePriority[o]; ok && p < bestPrio {
			best = o
			bestPrio = p
		}
	}
	return best
}

// pauses reports whether the override suspends demand output entirely.
func (o Override) pauses() bool {
	return o == OverrideContact || o == OverrideHumidity
}
