package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/g960059/mate/internal/model"
)

const (
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultBannerSize    = 1024
)

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Launcher starts the editor. suppressDefaultDocument tells it not to open
// its usual empty document because the caller is about to open something.
type Launcher interface {
	Launch(ctx context.Context, suppressDefaultDocument bool) error
}

type Options struct {
	Network       string
	Address       string
	RetryInterval time.Duration
	BannerSize    int
	Dialer        Dialer
	Launcher      Launcher
	Sleep         func(ctx context.Context, d time.Duration) error
	Logger        *slog.Logger
}

type Connector struct {
	opts Options
}

func New(opts Options) *Connector {
	if opts.Network == "" {
		opts.Network = "unix"
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.BannerSize <= 0 {
		opts.BannerSize = DefaultBannerSize
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Connector{opts: opts}
}

// Connect dials the editor until it answers. The first failed attempt
// launches the editor; after that the loop only waits and retries, with no
// upper bound. On success the server banner is read and returned.
func (c *Connector) Connect(ctx context.Context, hasDocuments bool) (net.Conn, []byte, error) {
	launched := false
	attempts := 0
	for {
		attempts++
		conn, err := c.opts.Dialer.DialContext(ctx, c.opts.Network, c.opts.Address)
		if err == nil {
			c.opts.Logger.Debug("connected", "address", c.opts.Address, "attempts", attempts)
			banner, err := c.readBanner(conn)
			if err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
			return conn, banner, nil
		}
		if !launched {
			launched = true
			c.opts.Logger.Debug("editor not reachable, launching", "address", c.opts.Address, "err", err)
			if c.opts.Launcher != nil {
				if err := c.opts.Launcher.Launch(ctx, hasDocuments); err != nil {
					return nil, nil, fmt.Errorf("%w: %w", model.ErrLaunch, err)
				}
			}
		}
		if err := c.opts.Sleep(ctx, c.opts.RetryInterval); err != nil {
			return nil, nil, err
		}
	}
}

func (c *Connector) readBanner(conn net.Conn) ([]byte, error) {
	buf := make([]byte, c.opts.BannerSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", model.ErrBanner, err)
	}
	c.opts.Logger.Debug("banner", "text", string(buf[:n]))
	return buf[:n], nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
