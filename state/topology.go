package state

import (
	"fmt"
	"slices"
	"strings"
)

/*
ParseTopology expands a compact link description into undirected node pairs.

Each line is either a group definition `name = a, b, c` or a mesh line `a, b, c`
connecting every listed symbol with every other one. Groups may reference other
groups, and expand to the nodes they (transitively) contain.

	clusterA = n1, n2, n3
	clusterA
	n3, n4

nodes is the set of terminal names the topology evaluates down to.
*/
func ParseTopology(lines []string, nodes []string) ([]Pair[string, string], error) {
	symbols, err := collectSymbols(lines, nodes)
	if err != nil {
		return nil, err
	}

	members := make(map[string][]string) // group -> direct nodes
	deps := make(map[string][]string)    // group -> groups it references
	meshes := make([][]string, 0)

	for _, line := range lines {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" && len(lines) > 1 {
			continue
		}
		name, body, isGroup := strings.Cut(line, "=")
		if !isGroup {
			names, err := parseSymbolList(line, symbols)
			if err != nil {
				return nil, err
			}
			if len(names) < 2 {
				// a group on its own is a full mesh of its members
				if len(names) == 1 && !slices.Contains(nodes, names[0]) {
					names = append(names, names[0])
				} else {
					return nil, fmt.Errorf("invalid pairing, %v", names)
				}
			}
			meshes = append(meshes, names)
			continue
		}
		name = strings.TrimSpace(name)
		if _, ok := deps[name]; ok {
			return nil, fmt.Errorf("duplicate group name: %s", name)
		}
		lst, err := parseSymbolList(body, symbols)
		if err != nil {
			return nil, err
		}
		deps[name] = make([]string, 0)
		for _, sym := range lst {
			if slices.Contains(nodes, sym) {
				members[name] = append(members[name], sym)
			} else {
				deps[name] = append(deps[name], sym)
			}
		}
		slices.Sort(deps[name])
		deps[name] = slices.Compact(deps[name])
	}

	if err := expandGroups(deps, members); err != nil {
		return nil, err
	}

	expand := func(sym string) []string {
		if slices.Contains(nodes, sym) {
			return []string{sym}
		}
		return members[sym]
	}

	pairings := make([]Pair[string, string], 0)
	for _, mesh := range meshes {
		for i := range mesh {
			for j := i; j < len(mesh); j++ {
				for _, x := range expand(mesh[i]) {
					for _, y := range expand(mesh[j]) {
						if x != y {
							pairings = append(pairings, MakeSortedPair(x, y))
						}
					}
				}
			}
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}

func collectSymbols(lines []string, nodes []string) ([]string, error) {
	symbols := slices.Clone(nodes)
	for _, line := range lines {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.Count(line, "=") > 1 {
			return nil, fmt.Errorf("invalid topology: %s. group definition must contain one '='", line)
		}
		name, _, isGroup := strings.Cut(line, "=")
		if !isGroup {
			continue
		}
		name = strings.TrimSpace(name)
		if slices.Contains(nodes, name) {
			return nil, fmt.Errorf("group name must not be a node name: %s", name)
		}
		symbols = append(symbols, name)
	}
	slices.Sort(symbols)
	return slices.Compact(symbols), nil
}

// expandGroups resolves group references in topological order, members is updated in place
func expandGroups(deps map[string][]string, members map[string][]string) error {
	for len(deps) > 0 {
		var free string
		for group, d := range deps {
			if len(d) == 0 {
				free = group
				break
			}
		}
		if free == "" {
			cycle := make([]string, 0, len(deps))
			for group := range deps {
				cycle = append(cycle, group)
			}
			slices.Sort(cycle)
			return fmt.Errorf("cycle detected in topology: %v", cycle)
		}
		delete(deps, free)

		for group, d := range deps {
			idx := slices.Index(d, free)
			if idx == -1 {
				continue
			}
			members[group] = append(members[group], members[free]...)
			slices.Sort(members[group])
			members[group] = slices.Compact(members[group])
			deps[group] = slices.Delete(d, idx, idx+1)
		}
	}
	return nil
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	line := make([]string, 0)
	for _, sym := range strings.Split(strings.TrimSpace(s), ",") {
		x := strings.TrimSpace(sym)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}
