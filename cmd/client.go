package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paseohq/paseo/internal/dialer"
	"github.com/paseohq/paseo/pkg/protocol"
)

// connectHost races the stored candidates for a host and returns the winning
// connection. An empty id is allowed when exactly one host is paired.
func connectHost(ctx context.Context, id string) (*dialer.Conn, error) {
	logger := slog.Default()
	reg := dialer.NewRegistry(resolveHome(), logger)

	if id == "" {
		profiles, err := reg.List()
		if err != nil {
			return nil, err
		}
		switch len(profiles) {
		case 0:
			return nil, fmt.Errorf("no paired hosts; run `paseo pair <url>` first")
		case 1:
			id = profiles[0].ServerID
		default:
			return nil, fmt.Errorf("%d hosts paired; name one (see `paseo hosts`)", len(profiles))
		}
	}

	d := dialer.New(reg, logger, dialer.Options{
		Hello: protocol.ClientHello{ClientName: "paseo-cli", Version: Version},
	})
	return d.Connect(ctx, id)
}

// call issues one request and decodes the result, surfacing wire failures
// as errors.
func call(ctx context.Context, conn *dialer.Conn, msgType string, payload, result any) error {
	resp, err := conn.Call(ctx, msgType, payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error != nil {
			return resp.Error
		}
		return fmt.Errorf("%s failed", msgType)
	}
	if result == nil {
		return nil
	}
	return resp.DecodeResult(result)
}
