// Package app wires a coordinator, its nodes, hinted handoff and health
// tracking from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"kvcoord/internal/config"
	"kvcoord/internal/coordinator"
	"kvcoord/internal/handoff"
	"kvcoord/internal/health"
	"kvcoord/internal/logger"
	"kvcoord/internal/metrics"
	"kvcoord/internal/node"
	"kvcoord/internal/quorum"
	"kvcoord/internal/storage"
)

// App owns every long-lived component of a coordinator process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	coord    *coordinator.Coordinator
	clients  *node.ClientManager
	redis    *redis.Client
	hints    handoff.Store
	handoff  *handoff.Handoff
	replayer *handoff.Replayer
	monitor  *health.Monitor

	dialOpts  []grpc.DialOption
	ownLogger bool

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithLogger uses l instead of a logger built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithDialOptions adds gRPC dial options for remote nodes.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(a *App) { a.dialOpts = append(a.dialOpts, opts...) }
}

// New builds the application from cfg. Metrics are registered on reg, or
// on the default registerer when reg is nil.
func New(cfg config.Config, reg prometheus.Registerer, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		l, err := logger.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		a.logger = l
		a.ownLogger = true
	}

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = m

	a.clients = node.NewClientManager(a.dialOpts...)

	nodes, err := a.buildNodes()
	if err != nil {
		a.release()
		return nil, err
	}

	if err := a.buildHintStore(); err != nil {
		a.release()
		return nil, err
	}

	a.handoff = handoff.New(a.hints,
		handoff.WithLogger(a.logger.Named("handoff")),
		handoff.WithMetrics(a.metrics),
		handoff.WithBuffer(cfg.Handoff.Buffer))

	a.coord, err = coordinator.New(nodes, cfg.ReplicationFactor,
		coordinator.WithLogger(a.logger.Named("coordinator")),
		coordinator.WithMetrics(a.metrics),
		coordinator.WithNodeTimeout(cfg.NodeTimeout),
		coordinator.WithHintedHandoff(a.handoff))
	if err != nil {
		a.release()
		return nil, err
	}

	a.monitor = health.NewMonitor(a.coord.Ring().Nodes(), cfg.Health, a.logger.Named("health"))

	a.replayer = handoff.NewReplayer(a.hints, a.coord.Ring(),
		handoff.WithHealth(a.monitor),
		handoff.WithReplayLogger(a.logger.Named("replay")),
		handoff.WithReplayMetrics(a.metrics),
		handoff.WithNodeTimeout(cfg.NodeTimeout),
		handoff.WithBatchSize(cfg.Handoff.BatchSize),
		handoff.WithInterval(cfg.Handoff.ReplayInterval))

	a.monitor.SetOnRecovered(a.replayer.Notify)

	a.logger.Info("app configured",
		zap.Strings("peers", cfg.PeerIDs()),
		zap.String("hint_backend", cfg.Handoff.Backend))

	return a, nil
}

// buildNodes creates one node per peer in ring order.
func (a *App) buildNodes() ([]node.Node, error) {
	nodes := make([]node.Node, 0, len(a.cfg.Peers))
	for _, p := range a.cfg.Peers {
		if p.InMemory() {
			nodes = append(nodes, node.NewLocal(p.ID, storage.NewInMemoryStore()))
			continue
		}

		conn, err := a.clients.Conn(p.Addr)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", p.ID, err)
		}
		nodes = append(nodes, node.NewRemote(p.ID, conn, a.logger.Named("remote")))
	}
	return nodes, nil
}

func (a *App) buildHintStore() error {
	h := a.cfg.Handoff

	switch h.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     h.Redis.Addr,
			Password: h.Redis.Password,
			DB:       h.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect hint store at %s: %w", h.Redis.Addr, err)
		}
		a.hints = handoff.NewRedisStore(a.redis, h.Redis.Prefix, h.HintTTL)
	default:
		a.hints = handoff.NewMemoryStore(h.HintTTL)
	}
	return nil
}

// Start launches health probing and hint replay. They run until Close.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)

	a.monitor.Start()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.replayer.Run(ctx)
	}()

	a.logger.Info("app started")
}

// Coordinator returns the request coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Monitor returns the node health monitor.
func (a *App) Monitor() *health.Monitor {
	return a.monitor
}

// Replayer returns the hint replayer.
func (a *App) Replayer() *handoff.Replayer {
	return a.replayer
}

// Hints returns the hint store.
func (a *App) Hints() handoff.Store {
	return a.hints
}

// Get reads key through the coordinator.
func (a *App) Get(ctx context.Context, key string) ([]byte, bool) {
	return a.coord.Get(ctx, key)
}

// Put writes key through the coordinator.
func (a *App) Put(ctx context.Context, key string, value []byte) quorum.Outcome {
	return a.coord.PutOutcome(ctx, key, value)
}

// Close stops background work, flushes pending hints and releases
// connections.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	if started {
		a.cancel()
		a.wg.Wait()
		a.monitor.Stop()
	}

	err := a.release()
	a.logger.Info("app stopped", zap.Error(err))
	if a.ownLogger {
		_ = a.logger.Sync()
	}
	return err
}

// release stops the hint writer and closes connections. It is safe on a
// partly built App.
func (a *App) release() error {
	// Pending hints reach the store before it goes away
	if a.handoff != nil {
		a.handoff.Close()
	}

	var errs []error
	if a.clients != nil {
		if err := a.clients.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close node clients: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
