package tools

import (
	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/pkg/protocol"
)

// Decide maps (agent mode, tool) to a policy decision:
//
//	auto     — tools run freely, shell is gated behind a permission ask
//	ask      — every mutating tool asks
//	readonly — mutating tools are denied outright
//
// Unknown tools (an MCP server's, typically) are treated as mutating.
func (tb *Toolbox) Decide(mode, name string) string {
	tb.mu.RLock()
	t, known := tb.tools[name]
	tb.mu.RUnlock()

	mutating := true
	if known {
		mutating = t.Mutating()
	}

	switch mode {
	case protocol.ModeReadonly:
		if mutating {
			return provider.DecisionDeny
		}
		return provider.DecisionAllow

	case protocol.ModeAsk:
		if mutating {
			return provider.DecisionAsk
		}
		return provider.DecisionAllow

	default: // auto
		if name == "shell" {
			return provider.DecisionAsk
		}
		return provider.DecisionAllow
	}
}
