package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"go.uber.org/multierr"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

// NameValidator checks symbolic names used in scenario topologies
func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func RoutingConfigValidator(cfg *RoutingCfg) error {
	var err error
	switch cfg.Mode {
	case GraphFull, GraphLite, GraphDisabled:
	default:
		err = multierr.Append(err, fmt.Errorf("routing.mode %q must be one of full, lite, disabled", cfg.Mode))
	}
	if cfg.BroadcastCapableThreshold <= 0 || cfg.BroadcastCapableThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("routing.broadcast_capable_threshold %.2f must be in (0, 1]", cfg.BroadcastCapableThreshold))
	}
	if cfg.CapabilityHeardWindow <= 0 {
		err = multierr.Append(err, fmt.Errorf("routing.capability_heard_window must be positive"))
	}
	if cfg.CapabilityTTL < cfg.CapabilityHeardWindow {
		err = multierr.Append(err, fmt.Errorf("routing.capability_ttl %s is shorter than capability_heard_window %s", cfg.CapabilityTTL, cfg.CapabilityHeardWindow))
	}
	if cfg.BroadcastInterval < NodeInfoMinInterval {
		err = multierr.Append(err, fmt.Errorf("routing.broadcast_interval %s is below the minimum of %s", cfg.BroadcastInterval, NodeInfoMinInterval))
	}
	if cfg.FullMaxNodes < 2 {
		err = multierr.Append(err, fmt.Errorf("routing.full_max_nodes must be at least 2"))
	}
	return err
}

func NodeConfigValidator(node *NodeCfg) error {
	var err error
	if !node.Id.Valid() {
		err = multierr.Append(err, fmt.Errorf("node.id %s is reserved", node.Id))
	}
	if node.LogPath != "" {
		if pErr := PathValidator(node.LogPath); pErr != nil {
			err = multierr.Append(err, fmt.Errorf("node.log_path: %w", pErr))
		}
	}
	return multierr.Append(err, RoutingConfigValidator(&node.Routing))
}
