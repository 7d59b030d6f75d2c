package core

import (
	"time"

	"github.com/encodeous/srmesh/state"
)

// trackCapability refreshes the record of id. Unknown only refreshes, it never overwrites a known status.
func (c *Coordinator) trackCapability(id state.NodeId, status state.CapabilityStatus) {
	if !id.Valid() || id == c.cfg.Id {
		return
	}
	rec, ok := c.capabilities[id]
	if status != state.CapabilityUnknown {
		if ok && rec.Status != status {
			c.Log(CapabilityChanged, "capability changed", "node", id, "from", rec.Status, "to", status)
		}
		rec.Status = status
	}
	rec.LastUpdated = c.clock.Now()
	c.capabilities[id] = rec
}

// CapabilityOf is the live capability of id, Unknown once its record is older than the TTL
func (c *Coordinator) CapabilityOf(id state.NodeId) state.CapabilityStatus {
	if id == c.cfg.Id {
		if c.activeRole() {
			return state.CapabilityCapable
		}
		return state.CapabilityLegacy
	}
	rec, ok := c.capabilities[id]
	if !ok || c.clock.Now().Sub(rec.LastUpdated) > c.cfg.Routing.CapabilityTTL {
		return state.CapabilityUnknown
	}
	return rec.Status
}

func (c *Coordinator) isSignalBasedCapable(id state.NodeId) bool {
	return c.CapabilityOf(id) == state.CapabilityCapable
}

// isLegacyRouter reports whether id is configured as infrastructure that floods for everyone
func (c *Coordinator) isLegacyRouter(id state.NodeId) bool {
	role, ok := c.nodes.Role(id)
	if !ok {
		return false
	}
	switch role {
	case state.RoleRouter, state.RoleRouterClient, state.RoleRepeater:
		return true
	}
	return false
}

func (c *Coordinator) heardWithin(id state.NodeId, now time.Time, window time.Duration) bool {
	if t, ok := c.nodes.LastHeard(id); ok && !t.IsZero() && now.Sub(t) <= window {
		return true
	}
	rec, ok := c.capabilities[id]
	return ok && now.Sub(rec.LastUpdated) <= window
}

// CapableFraction is the share of recently heard direct neighbours that are Capable, and how many were heard
func (c *Coordinator) CapableFraction() (float64, int) {
	now := c.clock.Now()
	heard, capable := 0, 0
	for _, n := range c.graph.DirectNeighbors(c.cfg.Id) {
		if !c.heardWithin(n, now, c.cfg.Routing.CapabilityHeardWindow) {
			continue
		}
		heard++
		if c.isSignalBasedCapable(n) {
			capable++
		}
	}
	if heard == 0 {
		return 0, 0
	}
	return float64(capable) / float64(heard), heard
}

func (c *Coordinator) topologyHealthyForBroadcast() bool {
	if !c.Enabled() {
		return false
	}
	frac, heard := c.CapableFraction()
	return heard > 0 && frac >= c.cfg.Routing.BroadcastCapableThreshold
}

// topologyHealthyForUnicast only asks that dest has been heard recently, next hop checks come later
func (c *Coordinator) topologyHealthyForUnicast(dest state.NodeId) bool {
	t, ok := c.nodes.LastHeard(dest)
	if !ok || t.IsZero() {
		return false
	}
	return c.clock.Now().Sub(t) < c.cfg.Routing.CapabilityTTL
}

// legacyNodes reports whether any live Legacy record exists, and whether heardFrom is one of them
func (c *Coordinator) legacyNodes(heardFrom state.NodeId) (found bool, isHeardFrom bool) {
	now := c.clock.Now()
	for id, rec := range c.capabilities {
		if rec.Status != state.CapabilityLegacy || now.Sub(rec.LastUpdated) > c.cfg.Routing.CapabilityTTL {
			continue
		}
		found = true
		if id == heardFrom {
			isHeardFrom = true
		}
	}
	return found, isHeardFrom
}

func (c *Coordinator) pruneCapabilities(now time.Time) {
	for id, rec := range c.capabilities {
		if now.Sub(rec.LastUpdated) > c.cfg.Routing.CapabilityTTL {
			delete(c.capabilities, id)
		}
	}
}
