// Package dependency answers the two questions lifecycle operations ask about requirements:
// what is missing before activation, and who blocks a deactivation.
package dependency

import (
	"sort"
	"strings"

	"github.com/bearslyricattack/plugman/pkg/models"
)

// DescribeFunc loads a descriptor; nil means the plugin cannot be described.
type DescribeFunc func(id string) (*models.PluginDescriptor, error)

// Key reduces a requirement such as "vendor/blog" to the plugin id it names.
func Key(requirement string) string {
	requirement = strings.TrimSpace(requirement)
	if i := strings.LastIndex(requirement, "/"); i >= 0 {
		return requirement[i+1:]
	}
	return requirement
}

// Unmet returns the requirements of desc that are not enabled. Only direct requirements are checked.
func Unmet(desc *models.PluginDescriptor, enabled []string) []string {
	if desc == nil {
		return nil
	}
	active := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		active[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(desc.Requires))
	var missing []string
	for _, req := range desc.Requires {
		if req == "" {
			continue
		}
		if _, dup := seen[req]; dup {
			continue
		}
		seen[req] = struct{}{}
		if _, ok := active[Key(req)]; !ok {
			missing = append(missing, req)
		}
	}
	sort.Strings(missing)
	return missing
}

// Dependents maps every enabled plugin that requires id to its display name.
func Dependents(id string, enabled []string, describe DescribeFunc) map[string]string {
	dependents := make(map[string]string)
	for _, other := range enabled {
		if other == id {
			continue
		}
		desc, err := describe(other)
		if err != nil || desc == nil {
			continue
		}
		for _, req := range desc.Requires {
			if Key(req) == id {
				dependents[other] = desc.DisplayName()
				break
			}
		}
	}
	return dependents
}

// Names renders a dependents map as a sorted, comma separated list of display names.
func Names(dependents map[string]string) string {
	names := make([]string, 0, len(dependents))
	for _, name := range dependents {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
