//go:build real_waku

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/waku-org/go-waku/waku/persistence"
	"github.com/waku-org/go-waku/waku/persistence/sqlite"
	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	"github.com/waku-org/go-waku/waku/v2/protocol"
	legacyStore "github.com/waku-org/go-waku/waku/v2/protocol/legacy_store"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
	"github.com/waku-org/go-waku/waku/v2/utils"
)

const (
	directPubsubTopic  = "/waku/2/default-waku/proto"
	directContentTopic = "/airc/1/direct-message/proto"
)

type gowakuTransport struct {
	mu             sync.RWMutex
	node           *wakuNode.WakuNode
	cfg            Config
	bootstrapNodes []string
	maintainCancel context.CancelFunc
	maintainWG     sync.WaitGroup

	dialAttempts       int
	dialSuccess        int
	dialFailures       int
	storeQueryFailover int
	storeQueryFailures int
}

func newWakuBackend() wakuBackend {
	return &gowakuTransport{}
}

func (g *gowakuTransport) Start(ctx context.Context, cfg Config) error {
	opts := make([]wakuNode.WakuNodeOption, 0)
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	opts = append(opts, wakuNode.WithHostAddress(hostAddr))
	if cfg.EnableRelay {
		opts = append(opts, wakuNode.WithWakuRelay())
	}
	if cfg.EnableStore {
		provider, err := newInMemoryMessageProvider()
		if err != nil {
			return err
		}
		opts = append(opts, wakuNode.WithMessageProvider(provider))
		opts = append(opts, wakuNode.WithWakuStore())
	}
	if cfg.EnableLightPush {
		opts = append(opts, wakuNode.WithLightPush())
	}

	node, err := wakuNode.New(opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}

	for _, addr := range cfg.BootstrapNodes {
		_ = node.DialPeer(ctx, addr)
	}

	g.mu.Lock()
	g.node = node
	g.cfg = cfg
	g.bootstrapNodes = append([]string(nil), cfg.BootstrapNodes...)
	g.mu.Unlock()
	g.startPeerMaintenance()
	return nil
}

func (g *gowakuTransport) Stop() {
	g.stopPeerMaintenance()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.node != nil {
		g.node.Stop()
		g.node = nil
	}
}

func (g *gowakuTransport) PeerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return 0
	}
	return g.node.PeerCount()
}

func (g *gowakuTransport) NetworkMetrics() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return map[string]int{
		"dial_attempts":        g.dialAttempts,
		"dial_success":         g.dialSuccess,
		"dial_failures":        g.dialFailures,
		"store_query_failover": g.storeQueryFailover,
		"store_query_failures": g.storeQueryFailures,
	}
}

func (g *gowakuTransport) Subscribe(handle string, handler func(DirectMessage)) error {
	g.mu.RLock()
	node := g.node
	g.mu.RUnlock()
	if node == nil {
		return errors.New("go-waku node is nil")
	}
	if handle == "" {
		return errors.New("handle is required")
	}

	filter := protocol.NewContentFilter(directPubsubTopic, directContentTopic)
	subs, err := node.Relay().Subscribe(context.Background(), filter)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		go func(subscription *relay.Subscription) {
			for env := range subscription.Ch {
				if env == nil || env.Message() == nil {
					continue
				}
				var msg DirectMessage
				if err := json.Unmarshal(env.Message().Payload, &msg); err != nil {
					continue
				}
				if msg.To != handle {
					continue
				}
				handler(msg)
			}
		}(sub)
	}
	return nil
}

func (g *gowakuTransport) Publish(ctx context.Context, msg DirectMessage) error {
	g.mu.RLock()
	node := g.node
	g.mu.RUnlock()
	if node == nil {
		return errors.New("go-waku node is nil")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{
		Payload:      payload,
		ContentTopic: directContentTopic,
		Timestamp:    &ts,
	}
	_, err = node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(directPubsubTopic))
	return err
}

func (g *gowakuTransport) FetchSince(ctx context.Context, handle string, since time.Time, limit int) ([]DirectMessage, error) {
	g.mu.RLock()
	node := g.node
	bootstrapNodes := append([]string(nil), g.bootstrapNodes...)
	fanout := g.cfg.StoreQueryFanout
	g.mu.RUnlock()
	if node == nil {
		return nil, errors.New("go-waku node is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	if fanout <= 0 {
		fanout = 1
	}

	start := since.UnixNano()
	end := time.Now().UnixNano()
	criteria := legacyStore.Query{
		PubsubTopic:   directPubsubTopic,
		ContentTopics: []string{directContentTopic},
		StartTime:     &start,
		EndTime:       &end,
	}
	baseOpts := []legacyStore.HistoryRequestOption{legacyStore.WithPaging(true, uint64(limit))}

	// Each bootstrap peer is a store-query candidate, plus one attempt
	// where go-waku picks a peer itself.
	type candidate struct {
		opts     []legacyStore.HistoryRequestOption
		peerAddr string
	}
	candidates := make([]candidate, 0, fanout+1)
	seen := make(map[string]struct{}, len(bootstrapNodes))
	for _, addr := range bootstrapNodes {
		if len(candidates) >= fanout {
			break
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		peerAddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			continue
		}
		opts := append([]legacyStore.HistoryRequestOption{}, baseOpts...)
		opts = append(opts, legacyStore.WithPeerAddr(peerAddr))
		candidates = append(candidates, candidate{opts: opts, peerAddr: addr})
	}
	candidates = append(candidates, candidate{
		opts:     append([]legacyStore.HistoryRequestOption{}, baseOpts...),
		peerAddr: "auto",
	})

	var (
		result  *legacyStore.Result
		err     error
		lastErr error
	)
	successAttempt := 0
	for i, c := range candidates {
		attempt := i + 1
		result, err = node.LegacyStore().Query(ctx, criteria, c.opts...)
		if err == nil {
			successAttempt = attempt
			break
		}
		g.mu.Lock()
		g.storeQueryFailures++
		g.mu.Unlock()
		slog.Warn("store query attempt failed", "peer_addr", c.peerAddr, "attempt", attempt, "reason", err.Error())
		lastErr = err
	}
	if err != nil {
		return nil, lastErr
	}
	if successAttempt > 1 {
		g.mu.Lock()
		g.storeQueryFailover++
		g.mu.Unlock()
		slog.Info("store query recovered via failover", "attempt", successAttempt)
	}

	msgByID := map[string]DirectMessage{}
	order := make([]string, 0, limit)
	consume := func() {
		for _, wm := range result.Messages {
			if wm == nil {
				continue
			}
			var msg DirectMessage
			if err := json.Unmarshal(wm.Payload, &msg); err != nil {
				continue
			}
			if msg.To != handle {
				continue
			}
			if _, exists := msgByID[msg.ID]; exists {
				continue
			}
			msgByID[msg.ID] = msg
			order = append(order, msg.ID)
		}
	}
	consume()
	for !result.IsComplete() && len(order) < limit {
		result, err = node.LegacyStore().Next(ctx, result)
		if err != nil {
			return nil, err
		}
		consume()
	}

	// Store responses can mix peers and pages; sort by ID for a
	// deterministic order.
	sort.Strings(order)
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]DirectMessage, 0, len(order))
	for _, id := range order {
		out = append(out, msgByID[id])
	}
	return out, nil
}

func (g *gowakuTransport) startPeerMaintenance() {
	g.mu.Lock()
	if g.maintainCancel != nil {
		g.maintainCancel()
		g.maintainCancel = nil
	}
	if len(g.bootstrapNodes) == 0 || g.node == nil {
		g.mu.Unlock()
		return
	}
	maintainCtx, cancel := context.WithCancel(context.Background())
	g.maintainCancel = cancel
	g.maintainWG.Add(1)
	cfg := g.cfg
	g.mu.Unlock()

	go func() {
		defer g.maintainWG.Done()
		ticker := time.NewTicker(cfg.ReconnectInterval)
		defer ticker.Stop()

		backoff := cfg.ReconnectInterval
		nextAttemptAt := time.Now()
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for {
			select {
			case <-maintainCtx.Done():
				return
			case <-ticker.C:
				if time.Now().Before(nextAttemptAt) {
					continue
				}
				if !g.needMorePeers() {
					backoff = cfg.ReconnectInterval
					nextAttemptAt = time.Now()
					continue
				}

				ok := g.redialBootstrapPeers(maintainCtx, rnd)
				if ok || !g.needMorePeers() {
					backoff = cfg.ReconnectInterval
					nextAttemptAt = time.Now()
					continue
				}

				backoff *= 2
				if backoff > cfg.ReconnectBackoffMax {
					backoff = cfg.ReconnectBackoffMax
				}
				jitter := time.Duration(rnd.Int63n(int64(backoff / 2)))
				nextAttemptAt = time.Now().Add(backoff + jitter)
			}
		}
	}()
}

func (g *gowakuTransport) stopPeerMaintenance() {
	g.mu.Lock()
	cancel := g.maintainCancel
	g.maintainCancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		g.maintainWG.Wait()
	}
}

func (g *gowakuTransport) needMorePeers() bool {
	g.mu.RLock()
	node := g.node
	bootstrapCount := len(g.bootstrapNodes)
	target := g.cfg.MinPeers
	g.mu.RUnlock()
	if node == nil {
		return false
	}
	if target <= 0 {
		target = 1
	}
	if bootstrapCount > 0 && target > bootstrapCount {
		target = bootstrapCount
	}
	return node.PeerCount() < target
}

func (g *gowakuTransport) redialBootstrapPeers(ctx context.Context, rnd *rand.Rand) bool {
	g.mu.RLock()
	node := g.node
	bootstrapNodes := append([]string(nil), g.bootstrapNodes...)
	g.mu.RUnlock()
	if node == nil || len(bootstrapNodes) == 0 {
		return false
	}

	rnd.Shuffle(len(bootstrapNodes), func(i, j int) {
		bootstrapNodes[i], bootstrapNodes[j] = bootstrapNodes[j], bootstrapNodes[i]
	})

	success := false
	for i, addr := range bootstrapNodes {
		attempt := i + 1
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		g.mu.Lock()
		g.dialAttempts++
		g.mu.Unlock()
		if err := node.DialPeer(ctx, addr); err == nil {
			g.mu.Lock()
			g.dialSuccess++
			g.mu.Unlock()
			success = true
			slog.Info("peer redial succeeded", "peer_addr", addr, "attempt", attempt)
		} else {
			g.mu.Lock()
			g.dialFailures++
			g.mu.Unlock()
			slog.Warn("peer redial failed", "peer_addr", addr, "attempt", attempt, "reason", err.Error())
		}
	}
	return success
}

func newInMemoryMessageProvider() (*persistence.DBStore, error) {
	db, err := sqlite.NewDB(":memory:", utils.Logger())
	if err != nil {
		return nil, err
	}
	return persistence.NewDBStore(
		prometheus.DefaultRegisterer,
		utils.Logger(),
		persistence.WithDB(db),
		persistence.WithMigrations(sqlite.Migrations),
	)
}
