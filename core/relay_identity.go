package core

import (
	"slices"
	"time"

	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
	"github.com/jellydator/ttlcache/v3"
)

// RelayIdentityEntry maps a one byte relay id back to a node we heard transmit with it
type RelayIdentityEntry struct {
	Node      state.NodeId
	LastHeard time.Time
}

// several nodes can share a relay byte, so each key holds a small bucket of candidates
func newRelayIdentityCache() *ttlcache.Cache[uint8, []RelayIdentityEntry] {
	return ttlcache.New[uint8, []RelayIdentityEntry](
		ttlcache.WithTTL[uint8, []RelayIdentityEntry](state.RelayIdentityTTL),
		ttlcache.WithDisableTouchOnHit[uint8, []RelayIdentityEntry](),
	)
}

// liveEntries copies the entries of bucket heard within the TTL
func liveEntries(bucket []RelayIdentityEntry, now time.Time) []RelayIdentityEntry {
	out := make([]RelayIdentityEntry, 0, len(bucket))
	for _, e := range bucket {
		if now.Sub(e.LastHeard) <= state.RelayIdentityTTL {
			out = append(out, e)
		}
	}
	return out
}

func (c *Coordinator) rememberRelayIdentity(node state.NodeId, relay uint8) {
	if relay == 0 || !node.Valid() {
		return
	}
	now := c.clock.Now()
	var bucket []RelayIdentityEntry
	if item := c.relayIds.Get(relay); item != nil {
		bucket = liveEntries(item.Value(), now)
	}
	if idx := slices.IndexFunc(bucket, func(e RelayIdentityEntry) bool { return e.Node == node }); idx != -1 {
		bucket[idx].LastHeard = now
	} else {
		bucket = append(bucket, RelayIdentityEntry{Node: node, LastHeard: now})
	}
	c.relayIds.Set(relay, bucket, ttlcache.DefaultTTL)
}

// ResolveRelayIdentity returns the most recently heard node using relay as its relay byte
func (c *Coordinator) ResolveRelayIdentity(relay uint8) state.NodeId {
	item := c.relayIds.Get(relay)
	if item == nil {
		return state.NodeNone
	}
	best := state.NodeNone
	var newest time.Time
	for _, e := range liveEntries(item.Value(), c.clock.Now()) {
		if best == state.NodeNone || !e.LastHeard.Before(newest) {
			best, newest = e.Node, e.LastHeard
		}
	}
	return best
}

/*
ResolveHeardFrom works out which node we actually heard p from. The header only carries the low
byte of the last relayer, so it is matched against the relay identity cache, then against our
direct neighbours. When nothing matches the source is assumed.
*/
func (c *Coordinator) ResolveHeardFrom(p *protocol.Packet) state.NodeId {
	if p.RelayNode == 0 || p.From.RelayId() == p.RelayNode {
		return p.From
	}
	if id := c.ResolveRelayIdentity(p.RelayNode); id != state.NodeNone {
		return id
	}
	for _, n := range c.graph.DirectNeighbors(c.cfg.Id) {
		if n.RelayId() == p.RelayNode {
			return n
		}
	}
	return p.From
}

func (c *Coordinator) pruneRelayIdentities(now time.Time) {
	c.relayIds.DeleteExpired()
	for _, relay := range c.relayIds.Keys() {
		item := c.relayIds.Get(relay)
		if item == nil {
			continue
		}
		live := liveEntries(item.Value(), now)
		switch {
		case len(live) == 0:
			c.relayIds.Delete(relay)
		case len(live) != len(item.Value()):
			c.relayIds.Set(relay, live, ttlcache.DefaultTTL)
		}
	}
}
