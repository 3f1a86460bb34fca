// ABOUTME: Connectivity signal abstraction: a boolean stream plus a synchronous probe.
// ABOUTME: Subscribers must tolerate duplicate or missed transitions.
package engine

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Connectivity reports whether the remote is reachable and notifies
// subscribers of transitions. The stream is advisory: consumers re-probe
// Online() at their own entry points rather than trusting it alone.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// notifier implements subscriber bookkeeping shared by the concrete monitors.
type notifier struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

func (n *notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *notifier) Subscribe() (<-chan bool, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]chan bool)
	}
	id := n.nextID
	n.nextID++
	ch := make(chan bool, 4)
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
}

// set updates the state and broadcasts on change. Slow subscribers miss
// intermediate transitions rather than blocking the monitor.
func (n *notifier) set(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.online == online {
		return
	}
	n.online = online
	for _, ch := range n.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// StaticConnectivity is a manually driven monitor, used by tests and by the
// CLI when no probe endpoint is configured.
type StaticConnectivity struct {
	notifier
}

// NewStaticConnectivity returns a monitor with the given initial state.
func NewStaticConnectivity(online bool) *StaticConnectivity {
	s := &StaticConnectivity{}
	s.online = online
	return s
}

// SetOnline flips the state and notifies subscribers.
func (s *StaticConnectivity) SetOnline(online bool) { s.set(online) }

// ProbeConnectivity polls an HTTP endpoint on an interval and derives the
// online/offline signal from reachability.
type ProbeConnectivity struct {
	notifier
	url      string
	interval time.Duration
	hc       *http.Client
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewProbeConnectivity starts probing immediately. Close releases the
// background goroutine.
func NewProbeConnectivity(url string, interval time.Duration) *ProbeConnectivity {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &ProbeConnectivity{
		url:      url,
		interval: interval,
		hc:       &http.Client{Timeout: 5 * time.Second},
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.set(p.probe(ctx))
	go p.loop(ctx)
	return p
}

// Close stops the probe loop.
func (p *ProbeConnectivity) Close() error {
	p.cancel()
	<-p.done
	return nil
}

func (p *ProbeConnectivity) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.set(p.probe(ctx))
		}
	}
}

func (p *ProbeConnectivity) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
