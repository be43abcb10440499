// Package source reads orientation samples from a TCP NDJSON feed, such as
// a phone streaming its rotation vector sensor.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"compass-ng/internal/pipeline"
)

type Config struct {
	Addr string

	ReconnectDelay time.Duration
	MaxLineBytes   int

	// DialTimeout is used for each TCP connect.
	DialTimeout time.Duration

	Logger *zap.SugaredLogger
}

// Client dials Addr, decodes one sample per line and reconnects when the
// peer goes away.
type Client struct {
	cfg Config
	log *zap.SugaredLogger

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	count    uint64
	bad      uint64
}

type Status struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Samples     uint64 `json:"samples"`
	Rejected    uint64 `json:"rejected"`
}

func New(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("source: addr is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{cfg: cfg, log: log, state: "stopped"}, nil
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Status{
		Addr:      c.cfg.Addr,
		State:     c.state,
		LastError: c.lastErr,
		Samples:   c.count,
		Rejected:  c.bad,
	}
	if !c.lastSeen.IsZero() {
		out.LastSeenUTC = c.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// Run blocks until ctx is done, reconnecting as needed.
func (c *Client) Run(ctx context.Context, out chan<- pipeline.Sample) error {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	for {
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return nil
		}

		c.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.setState("error", err.Error())
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				c.setState("stopped", "")
				return nil
			}
			continue
		}

		c.setState("connected", "")
		c.log.Infow("sample feed connected", "addr", c.cfg.Addr)
		if !c.readConn(ctx, conn, out) {
			c.setState("stopped", "")
			return nil
		}

		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			c.setState("stopped", "")
			return nil
		}
	}
}

// readConn returns false when ctx ended the read.
func (c *Client) readConn(ctx context.Context, conn net.Conn, out chan<- pipeline.Sample) bool {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, c.cfg.MaxLineBytes)), c.cfg.MaxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		smp, err := pipeline.DecodeSample(line)
		if err != nil {
			c.reject(err.Error())
			continue
		}

		select {
		case out <- smp:
		case <-ctx.Done():
			return false
		}

		c.mu.Lock()
		c.lastSeen = time.Now().UTC()
		c.count++
		c.mu.Unlock()
	}

	if ctx.Err() != nil {
		return false
	}
	err := scanner.Err()
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		// The rest of an oversized line cannot be resynchronised; drop the peer.
		c.reject(fmt.Sprintf("line exceeds %d bytes", c.cfg.MaxLineBytes))
		c.setState("disconnected", fmt.Sprintf("line exceeds %d bytes", c.cfg.MaxLineBytes))
	case err == nil, errors.Is(err, net.ErrClosed):
		c.setState("disconnected", "")
	default:
		c.setState("disconnected", err.Error())
	}
	c.log.Warnw("sample feed disconnected", "addr", c.cfg.Addr, "error", err)
	return true
}

func (c *Client) reject(msg string) {
	c.mu.Lock()
	c.bad++
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Client) setState(state string, lastErr string) {
	c.mu.Lock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "connecting" || state == "stopped" {
		// Healthy states clear a stale error from a previous attempt.
		c.lastErr = ""
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
