//go:build !tailscale

package daemon

import (
	"context"

	"github.com/paseohq/paseo/internal/config"
)

// serveTailnet is a no-op unless built with -tags tailscale.
func (d *Daemon) serveTailnet(_ context.Context, cfg config.TailscaleConfig) {
	d.logger.Warn("tailnet_disabled", "hostname", cfg.Hostname,
		"hint", "rebuild with -tags tailscale to serve on the tailnet")
}
