//go:build tailscale

package daemon

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/paseohq/paseo/internal/config"
)

// serveTailnet exposes the same mux on the tailnet. Compiled only with
// `go build -tags tailscale`.
func (d *Daemon) serveTailnet(ctx context.Context, cfg config.TailscaleConfig) {
	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(d.home, "tsnet")
	}
	ts := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}
	defer ts.Close()

	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		d.logger.Error("tailnet_listen_failed", "error", err)
		return
	}
	d.logger.Info("tailnet_listening", "hostname", cfg.Hostname)

	srv := &http.Server{Handler: d.buildMux()}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		d.logger.Error("tailnet_serve_failed", "error", err)
	}
}
