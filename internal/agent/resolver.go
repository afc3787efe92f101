package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paseohq/paseo/pkg/protocol"
)

const (
	minPrefixLen  = 4
	maxCandidates = 5
	shortIDLen    = 12
)

// Resolve maps a client identifier to an agent: exact id first, then a
// unique id prefix of at least four characters, then an exact title match.
// Ambiguity returns up to five candidate short-ids.
func (m *Manager) Resolve(identifier string) (*managedAgent, error) {
	if identifier == "" {
		return nil, &protocol.Error{Code: protocol.ErrInvalidIdentifier, Message: "empty agent identifier"}
	}

	m.mu.Lock()
	if a, ok := m.agents[identifier]; ok {
		m.mu.Unlock()
		return a, nil
	}
	agents := make([]*managedAgent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	var matches []*managedAgent
	if len(identifier) >= minPrefixLen {
		for _, a := range agents {
			a.mu.Lock()
			id := a.rec.ID
			a.mu.Unlock()
			if strings.HasPrefix(id, identifier) {
				matches = append(matches, a)
			}
		}
	}
	if len(matches) == 0 {
		for _, a := range agents {
			a.mu.Lock()
			title := a.rec.Title
			a.mu.Unlock()
			if title != "" && title == identifier {
				matches = append(matches, a)
			}
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, &protocol.Error{Code: protocol.ErrAgentNotFound, Message: fmt.Sprintf("no agent matches %q", identifier)}
	default:
		candidates := make([]string, 0, len(matches))
		for _, a := range matches {
			a.mu.Lock()
			candidates = append(candidates, shortID(a.rec.ID))
			a.mu.Unlock()
		}
		sort.Strings(candidates)
		if len(candidates) > maxCandidates {
			candidates = candidates[:maxCandidates]
		}
		return nil, &protocol.Error{
			Code:       protocol.ErrAmbiguousIdentifier,
			Message:    fmt.Sprintf("%q matches %d agents", identifier, len(matches)),
			Candidates: candidates,
		}
	}
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}
