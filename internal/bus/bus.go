// Package bus carries accepted chat messages to their recipients. The
// default transport is an in-process router; the go-waku transport is
// compiled in with the real_waku build tag.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TransportMock   = "mock"
	TransportGoWaku = "go-waku"

	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDegraded     = "degraded"
)

var statusPollInterval = 1 * time.Second

const publishTimeout = 10 * time.Second

type Config struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	EnableRelay         bool          `yaml:"enableRelay"`
	EnableStore         bool          `yaml:"enableStore"`
	EnableLightPush     bool          `yaml:"enableLightPush"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	MinPeers            int           `yaml:"minPeers"`
	StoreQueryFanout    int           `yaml:"storeQueryFanout"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
}

type Status struct {
	State     string
	PeerCount int
	LastSync  time.Time
}

func DefaultConfig() Config {
	return Config{
		Transport:           TransportMock,
		Port:                60000,
		EnableRelay:         true,
		EnableStore:         true,
		EnableLightPush:     true,
		MinPeers:            2,
		StoreQueryFanout:    3,
		ReconnectInterval:   1 * time.Second,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.StoreQueryFanout <= 0 {
		cfg.StoreQueryFanout = def.StoreQueryFanout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	return cfg
}

// wakuBackend is the surface the go-waku transport implements. The
// default build compiles a nil backend.
type wakuBackend interface {
	Start(ctx context.Context, cfg Config) error
	Stop()
	PeerCount() int
	NetworkMetrics() map[string]int
	Subscribe(handle string, handler func(DirectMessage)) error
	Publish(ctx context.Context, msg DirectMessage) error
	FetchSince(ctx context.Context, handle string, since time.Time, limit int) ([]DirectMessage, error)
}

type Node struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	gw     wakuBackend

	attached []string

	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup
	transitions   int
}

func NewNode(cfg Config) *Node {
	return &Node{
		cfg:    normalizeConfig(cfg),
		status: Status{State: StateDisconnected},
	}
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.transitionLocked(StateConnecting)
	n.status.LastSync = time.Now()
	n.mu.Unlock()

	if n.cfg.Transport == TransportGoWaku {
		backend := newWakuBackend()
		if backend == nil {
			n.setDisconnected()
			return errors.New("go-waku transport is not available in this build")
		}
		if err := backend.Start(ctx, n.cfg); err != nil {
			n.setDisconnected()
			return err
		}
		peerCount := waitForStartupPeers(ctx, backend, n.cfg)
		n.mu.Lock()
		n.gw = backend
		if peerCount >= startupPeerTarget(n.cfg) {
			n.transitionLocked(StateConnected)
		} else {
			n.transitionLocked(StateDegraded)
		}
		n.status.PeerCount = peerCount
		n.status.LastSync = time.Now()
		n.mu.Unlock()
		n.startMonitor()
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	n.mu.Lock()
	n.transitionLocked(StateConnected)
	n.status.PeerCount = 1
	n.status.LastSync = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *Node) Stop(_ context.Context) error {
	n.stopMonitor()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gw != nil {
		n.gw.Stop()
		n.gw = nil
	}
	for _, handle := range n.attached {
		defaultRouter.detach(handle)
	}
	n.attached = nil
	n.transitionLocked(StateDisconnected)
	n.status.PeerCount = 0
	n.status.LastSync = time.Now()
	return nil
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := n.status
	if n.gw != nil {
		s.PeerCount = n.gw.PeerCount()
	}
	return s
}

// Subscribe registers a handler for messages addressed to handle.
func (n *Node) Subscribe(handle string, handler func(DirectMessage)) error {
	n.mu.RLock()
	state := n.status.State
	gw := n.gw
	n.mu.RUnlock()

	if state != StateConnected && state != StateDegraded {
		return errors.New("bus not connected")
	}
	if handle == "" {
		return errors.New("handle is required")
	}
	if gw != nil {
		return gw.Subscribe(handle, handler)
	}
	n.mu.Lock()
	n.attached = append(n.attached, handle)
	n.mu.Unlock()
	defaultRouter.attach(handle, handler)
	return nil
}

// Publish hands one message to the transport.
func (n *Node) Publish(ctx context.Context, msg DirectMessage) error {
	n.mu.RLock()
	state := n.status.State
	gw := n.gw
	n.mu.RUnlock()
	if state != StateConnected && state != StateDegraded {
		return errors.New("bus not connected")
	}
	if msg.To == "" {
		return errors.New("recipient is required")
	}
	if gw != nil {
		return gw.Publish(ctx, msg)
	}
	defaultRouter.deliver(msg)
	return nil
}

// PublishDirect assigns a message ID and publishes. It is the delivery
// hook used by the send path.
func (n *Node) PublishDirect(from, to, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return n.Publish(ctx, DirectMessage{
		ID:     uuid.NewString(),
		From:   from,
		To:     to,
		Body:   body,
		SentAt: time.Now().UTC(),
	})
}

// FetchSince retrieves stored messages for a handle. The mock transport
// parks undelivered messages instead, so it returns nothing here.
func (n *Node) FetchSince(ctx context.Context, handle string, since time.Time, limit int) ([]DirectMessage, error) {
	n.mu.RLock()
	state := n.status.State
	gw := n.gw
	n.mu.RUnlock()
	if state != StateConnected && state != StateDegraded {
		return nil, errors.New("bus not connected")
	}
	if handle == "" {
		return nil, errors.New("handle is required")
	}
	if gw == nil {
		return nil, nil
	}
	return gw.FetchSince(ctx, handle, since, limit)
}

func (n *Node) NetworkMetrics() map[string]int {
	n.mu.RLock()
	transitions := n.transitions
	gw := n.gw
	n.mu.RUnlock()
	out := map[string]int{"network_state_transitions": transitions}
	if gw != nil {
		for k, v := range gw.NetworkMetrics() {
			out[k] = v
		}
	}
	return out
}

func (n *Node) setDisconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitionLocked(StateDisconnected)
	n.status.PeerCount = 0
	n.status.LastSync = time.Now()
}

func (n *Node) startMonitor() {
	n.mu.Lock()
	if n.monitorCancel != nil {
		n.monitorCancel()
	}
	monitorCtx, cancel := context.WithCancel(context.Background())
	n.monitorCancel = cancel
	n.monitorWG.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.monitorWG.Done()
		ticker := time.NewTicker(statusPollInterval)
		defer ticker.Stop()

		n.refreshStatus()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				n.refreshStatus()
			}
		}
	}()
}

func (n *Node) stopMonitor() {
	n.mu.Lock()
	cancel := n.monitorCancel
	n.monitorCancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		n.monitorWG.Wait()
	}
}

func (n *Node) refreshStatus() {
	n.mu.RLock()
	gw := n.gw
	n.mu.RUnlock()
	if gw == nil {
		return
	}
	peerCount := gw.PeerCount()
	next := StateConnected
	if peerCount <= 0 {
		next = StateDegraded
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.State == StateDisconnected {
		return
	}
	if n.status.State != next || n.status.PeerCount != peerCount {
		n.transitionLocked(next)
		n.status.PeerCount = peerCount
		n.status.LastSync = time.Now()
	}
}

func (n *Node) transitionLocked(next string) {
	if next != "" && n.status.State != next {
		n.transitions++
		n.status.State = next
	}
}

func startupPeerTarget(cfg Config) int {
	target := cfg.MinPeers
	if target <= 0 {
		target = 1
	}
	if len(cfg.BootstrapNodes) > 0 && target > len(cfg.BootstrapNodes) {
		target = len(cfg.BootstrapNodes)
	}
	return target
}

func waitForStartupPeers(ctx context.Context, backend wakuBackend, cfg Config) int {
	target := startupPeerTarget(cfg)
	peerCount := backend.PeerCount()
	if peerCount >= target {
		return peerCount
	}

	timeout := cfg.ReconnectInterval * 5
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	if cfg.ReconnectBackoffMax > 0 && timeout > cfg.ReconnectBackoffMax {
		timeout = cfg.ReconnectBackoffMax
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return backend.PeerCount()
		case <-timer.C:
			return backend.PeerCount()
		case <-ticker.C:
			peerCount = backend.PeerCount()
			if peerCount >= target {
				return peerCount
			}
		}
	}
}
