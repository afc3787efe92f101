package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paseohq/paseo/pkg/protocol"
)

const (
	defaultStagger          = 50 * time.Millisecond
	defaultHandshakeTimeout = 5 * time.Second
)

// errRaceWon cancels the remaining candidates once one has handshaken.
var errRaceWon = errors.New("race won")

// Maintain status states.
const (
	StateConnecting = "connecting"
	StateOnline     = "online"
	StateOffline    = "offline"
	StateBackoff    = "backoff"
)

// ActiveConnection identifies the candidate a live session runs over.
type ActiveConnection struct {
	ConnectionID string
	Type         string
	Endpoint     string
}

// Status is one transition in a Maintain loop.
type Status struct {
	State string
	Conn  *ActiveConnection
	Err   error
}

// Options tune a Dialer. Zero values take the production defaults.
type Options struct {
	Hello            protocol.ClientHello
	Stagger          time.Duration
	HandshakeTimeout time.Duration
}

// Dialer connects to paired hosts by racing their stored candidates.
type Dialer struct {
	reg     *Registry
	logger  *slog.Logger
	stagger time.Duration
	timeout time.Duration
	hello   protocol.ClientHello

	// dial is swapped in tests.
	dial func(ctx context.Context, serverID string, cand Connection) (*Conn, error)
}

// New builds a Dialer over the given profile store.
func New(reg *Registry, logger *slog.Logger, opts Options) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dialer{
		reg:     reg,
		logger:  logger,
		stagger: defaultStagger,
		timeout: defaultHandshakeTimeout,
		hello:   opts.Hello,
	}
	if opts.Stagger > 0 {
		d.stagger = opts.Stagger
	}
	if opts.HandshakeTimeout > 0 {
		d.timeout = opts.HandshakeTimeout
	}
	d.dial = d.dialCandidate
	return d
}

// Connect races the host's candidates once and returns the winning session.
// When the daemon reports a different serverId than the stored profile, the
// profile is rekeyed before returning.
func (d *Dialer) Connect(ctx context.Context, id string) (*Conn, error) {
	profile, err := d.reg.Resolve(id)
	if err != nil {
		return nil, err
	}
	conn, err := d.race(ctx, profile)
	if err != nil {
		return nil, err
	}
	if reported := conn.Info().ServerID; reported != profile.ServerID {
		if _, err := d.reg.Rekey(profile.ServerID, reported); err != nil {
			d.logger.Warn("host rekey failed", "old", profile.ServerID, "new", reported, "error", err)
		} else {
			d.logger.Info("host rekeyed", "old", profile.ServerID, "new", reported)
		}
	}
	return conn, nil
}

// race starts candidates 50ms apart, each with its own handshake deadline.
// The first completed handshake wins and cancels the rest; a photo-finish
// loser is closed immediately. All-fail returns the joined per-candidate
// errors.
func (d *Dialer) race(ctx context.Context, p *HostProfile) (*Conn, error) {
	cands := orderCandidates(p)
	if len(cands) == 0 {
		return nil, fmt.Errorf("dialer: host %s has no connections", p.ServerID)
	}

	var (
		mu     sync.Mutex
		winner *Conn
		errs   = make([]error, len(cands))
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range cands {
		g.Go(func() error {
			if i > 0 {
				t := time.NewTimer(time.Duration(i) * d.stagger)
				select {
				case <-t.C:
				case <-gctx.Done():
					t.Stop()
					return nil
				}
			}

			cctx, cancel := context.WithTimeout(gctx, d.timeout)
			conn, err := d.dial(cctx, p.ServerID, cand)
			cancel()
			if err != nil {
				mu.Lock()
				errs[i] = fmt.Errorf("%s %s: %w", cand.Type, cand.Endpoint, err)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			if winner == nil {
				winner = conn
				mu.Unlock()
				return errRaceWon
			}
			mu.Unlock()
			conn.Close()
			return nil
		})
	}
	// Individual failures return nil above, so Wait's error is either
	// errRaceWon or nothing.
	_ = g.Wait()

	if winner != nil {
		return winner, nil
	}
	return nil, fmt.Errorf("dialer: all candidates failed for %s: %w", p.ServerID, errors.Join(errs...))
}

// Maintain keeps a host dialed until ctx ends, re-racing after each loss
// with exponential backoff. Every transition is reported through onStatus
// (run on the maintain goroutine); each successful attempt publishes
// exactly one ActiveConnection.
func (d *Dialer) Maintain(ctx context.Context, serverID string, onStatus func(Status)) error {
	var bo backoff
	id := serverID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		onStatus(Status{State: StateConnecting})

		conn, err := d.Connect(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := bo.next()
			onStatus(Status{State: StateBackoff, Err: err})
			d.logger.Debug("dial failed, backing off", "host", id, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		bo.reset()
		// Follow a rekey so the next attempt resolves directly.
		id = conn.Info().ServerID
		cand := conn.Connection()
		onStatus(Status{State: StateOnline, Conn: &ActiveConnection{
			ConnectionID: cand.ID,
			Type:         cand.Type,
			Endpoint:     cand.Endpoint,
		}})

		select {
		case <-conn.Done():
			onStatus(Status{State: StateOffline, Err: conn.Err()})
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		}
	}
}
