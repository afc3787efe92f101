package dialer

import "sort"

// orderCandidates builds the dial order for a profile: the preferred
// candidate first if one is set, then the rest with direct endpoints ahead
// of relay ones, stored order preserved within each group.
func orderCandidates(p *HostProfile) []Connection {
	rest := make([]Connection, 0, len(p.Connections))
	var preferred []Connection
	for _, c := range p.Connections {
		if p.PreferredConnectionID != "" && c.ID == p.PreferredConnectionID {
			preferred = append(preferred, c)
			continue
		}
		rest = append(rest, c)
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return typeRank(rest[i].Type) < typeRank(rest[j].Type)
	})
	return append(preferred, rest...)
}

func typeRank(t string) int {
	if t == ConnDirect {
		return 0
	}
	return 1
}
