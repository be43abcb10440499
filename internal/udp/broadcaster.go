// Package udp pushes heading snapshots to a UDP destination (often a
// broadcast address) as JSON datagrams.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"compass-ng/internal/pipeline"
)

type udpConn interface {
	io.Writer
	io.Closer
}

type Broadcaster struct {
	dest string
	conn udpConn
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(
	dest string,
	resolve func(network, address string) (*net.UDPAddr, error),
	dial func(network string, laddr, raddr *net.UDPAddr) (udpConn, error),
) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

type sender interface {
	Send(payload []byte) error
}

// Datagram is the JSON body of every packet.
type Datagram struct {
	Instance string            `json:"instance"`
	Seq      uint64            `json:"seq"`
	Heading  pipeline.Snapshot `json:"heading"`
}

type PublisherStatus struct {
	Dest   string `json:"dest"`
	Sent   uint64 `json:"sent"`
	Errors uint64 `json:"errors"`
}

// Publisher forwards snapshots at no more than a fixed rate. When updates
// arrive faster, the newest one wins.
type Publisher struct {
	out      sender
	dest     string
	lim      *rate.Limiter
	instance string
	log      *zap.SugaredLogger

	seq    atomic.Uint64
	errors atomic.Uint64
}

// NewPublisher sends through b; maxRate <= 0 means unlimited.
func NewPublisher(b *Broadcaster, maxRate float64, instance string, log *zap.SugaredLogger) *Publisher {
	return newPublisher(b, b.Dest(), maxRate, instance, log)
}

func newPublisher(out sender, dest string, maxRate float64, instance string, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	if maxRate > 0 && !math.IsInf(maxRate, 1) {
		limit = rate.Limit(maxRate)
	}
	return &Publisher{
		out:      out,
		dest:     dest,
		lim:      rate.NewLimiter(limit, 1),
		instance: instance,
		log:      log,
	}
}

func (p *Publisher) Status() PublisherStatus {
	return PublisherStatus{Dest: p.dest, Sent: p.seq.Load(), Errors: p.errors.Load()}
}

// Run forwards snapshots from bc until ctx is done.
func (p *Publisher) Run(ctx context.Context, bc *pipeline.Broadcaster) error {
	id, ch := bc.Subscribe(4)
	if ch == nil {
		return fmt.Errorf("udp: no broadcaster")
	}
	defer bc.Unsubscribe(id)

	var (
		pending *pipeline.Snapshot
		wait    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			pending = &snap
			if wait != nil {
				continue
			}
			if d := p.lim.Reserve().Delay(); d > 0 {
				wait = time.After(d)
				continue
			}
			p.send(*pending)
			pending = nil
		case <-wait:
			wait = nil
			if pending != nil {
				p.send(*pending)
				pending = nil
			}
		}
	}
}

func (p *Publisher) send(snap pipeline.Snapshot) {
	b, err := json.Marshal(Datagram{Instance: p.instance, Seq: p.seq.Load() + 1, Heading: snap})
	if err != nil {
		p.fail(err)
		return
	}
	if err := p.out.Send(b); err != nil {
		p.fail(err)
		return
	}
	p.seq.Add(1)
}

func (p *Publisher) fail(err error) {
	// Log the first failure only; a missing network would flood the log.
	if p.errors.Add(1) == 1 {
		p.log.Warnw("udp send failed", "dest", p.dest, "error", err)
	}
}
