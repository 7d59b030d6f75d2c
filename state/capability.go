package state

import "time"

type CapabilityStatus uint8

const (
	CapabilityUnknown CapabilityStatus = iota
	// CapabilityCapable nodes participate in signal based routing
	CapabilityCapable
	// CapabilityLegacy nodes only flood
	CapabilityLegacy
)

func (c CapabilityStatus) String() string {
	switch c {
	case CapabilityCapable:
		return "capable"
	case CapabilityLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

type CapabilityRecord struct {
	Status      CapabilityStatus
	LastUpdated time.Time
}

// CapabilityFromRole maps a device role onto the capability it implies
func CapabilityFromRole(r Role) CapabilityStatus {
	if r.Passive() {
		return CapabilityLegacy
	}
	return CapabilityUnknown
}
