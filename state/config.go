package state

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// GraphMode selects which topology graph a node carries
type GraphMode string

const (
	GraphFull     GraphMode = "full"
	GraphLite     GraphMode = "lite"
	GraphDisabled GraphMode = "disabled"
)

// RoutingCfg holds the tunable routing policy of a node
type RoutingCfg struct {
	Mode GraphMode `yaml:"mode,omitempty"`
	// fraction of recently heard direct neighbours that must be capable before broadcasts use signal routing
	BroadcastCapableThreshold float64 `yaml:"broadcast_capable_threshold,omitempty"`
	// a neighbour heard within this window counts towards the capable fraction
	CapabilityHeardWindow time.Duration `yaml:"capability_heard_window,omitempty"`
	CapabilityTTL         time.Duration `yaml:"capability_ttl,omitempty"`
	BroadcastInterval     time.Duration `yaml:"broadcast_interval,omitempty"`
	// disables speculative unicast retransmission when set
	NoSpeculativeRetransmit bool `yaml:"no_speculative_retransmit,omitempty"`
	FullMaxNodes            int  `yaml:"full_max_nodes,omitempty"`
}

// NodeCfg represents local node-level configuration
type NodeCfg struct {
	Id      NodeId     `yaml:"id"`
	Role    Role       `yaml:"role,omitempty"`
	LogPath string     `yaml:"log_path,omitempty"` // if not empty, logs are also written to this file
	Routing RoutingCfg `yaml:"routing,omitempty"`
}

// ExpandNodeConfig fills in defaults for every zero valued routing option
func ExpandNodeConfig(cfg *NodeCfg) {
	r := &cfg.Routing
	if r.Mode == "" {
		r.Mode = GraphFull
	}
	if r.BroadcastCapableThreshold == 0 {
		r.BroadcastCapableThreshold = DefaultBroadcastCapableThreshold
	}
	if r.CapabilityHeardWindow == 0 {
		r.CapabilityHeardWindow = DefaultCapabilityHeardWindow
	}
	if r.CapabilityTTL == 0 {
		r.CapabilityTTL = DefaultCapabilityTTL
	}
	if r.BroadcastInterval == 0 {
		r.BroadcastInterval = DefaultBroadcastInterval
	}
	if r.FullMaxNodes == 0 {
		r.FullMaxNodes = DefaultFullMaxNodes
	}
}

func ReadNodeConfig(nodePath string) (*NodeCfg, error) {
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	return ParseNodeConfig(file)
}

// ParseNodeConfig decodes, expands and validates a node configuration
func ParseNodeConfig(data []byte) (*NodeCfg, error) {
	var cfg NodeCfg
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse node config: %w", err)
	}
	ExpandNodeConfig(&cfg)
	if err := NodeConfigValidator(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
