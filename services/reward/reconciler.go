package reward

import (
	"slices"

	"guild-leveling/services/guild"
)

// Delta is the role membership change for one level transition. An empty Add means nothing to grant.
type Delta struct {
	Add    string   `json:"add,omitempty"`
	Remove []string `json:"remove"`
}

func (d Delta) Empty() bool {
	return d.Add == "" && len(d.Remove) == 0
}

// Canonical returns the reward role for level: the entry with the highest level not above it.
func Canonical(table []guild.RewardEntry, level int) (string, bool) {
	best := -1
	role := ""
	for _, e := range table {
		if e.Level <= level && e.Level > best {
			best = e.Level
			role = e.RoleID
		}
	}
	return role, best >= 0
}

// Reconcile computes the delta that leaves the member holding only the canonical
// reward role for newLevel. Level-downs are handled the same way, so oldLevel
// only matters to callers that want to skip no-op transitions.
func Reconcile(table []guild.RewardEntry, oldLevel, newLevel int, held []string) Delta {
	canonical, ok := Canonical(table, newLevel)

	delta := Delta{Remove: []string{}}
	if ok && !slices.Contains(held, canonical) {
		delta.Add = canonical
	}

	for _, e := range table {
		if ok && e.RoleID == canonical {
			continue
		}
		if slices.Contains(held, e.RoleID) && !slices.Contains(delta.Remove, e.RoleID) {
			delta.Remove = append(delta.Remove, e.RoleID)
		}
	}
	return delta
}

// TableRoles returns the distinct role IDs referenced by table.
func TableRoles(table []guild.RewardEntry) []string {
	out := make([]string, 0, len(table))
	for _, e := range table {
		if !slices.Contains(out, e.RoleID) {
			out = append(out, e.RoleID)
		}
	}
	return out
}
