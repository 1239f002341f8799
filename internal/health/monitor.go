package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kvcoord/internal/logger"
	"kvcoord/internal/node"
	"kvcoord/internal/quorum"
)

// Status represents the reachability of a node.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Member is the monitor's view of one node.
type Member struct {
	ID               string
	Status           Status
	LastSeen         time.Time
	LastProbe        time.Time
	ConsecutiveFails int
}

// Config holds monitor timings.
type Config struct {
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	SuspectTimeout time.Duration `yaml:"suspect_timeout"`
	DeadTimeout    time.Duration `yaml:"dead_timeout"`
}

// DefaultConfig returns the timings used for zero fields.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 1 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 500 * time.Millisecond
	}
	if c.SuspectTimeout <= 0 {
		c.SuspectTimeout = 3 * time.Second
	}
	if c.DeadTimeout <= 0 {
		c.DeadTimeout = 10 * time.Second
	}
	return c
}

// Monitor tracks node health with periodic probes.
type Monitor struct {
	mu      sync.RWMutex
	nodes   []node.Node
	members map[string]*Member
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	onRecovered func(nodeID string)

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor for nodes. Every node starts Alive.
func NewMonitor(nodes []node.Node, cfg Config, l *zap.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		nodes:   append([]node.Node(nil), nodes...),
		members: make(map[string]*Member, len(nodes)),
		cfg:     cfg.withDefaults(),
		logger:  logger.OrNop(l),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}

	now := m.now()
	for _, n := range nodes {
		m.members[n.ID()] = &Member{
			ID:       n.ID(),
			Status:   Alive,
			LastSeen: now,
		}
	}
	return m
}

// SetOnRecovered sets the callback invoked when a Suspect or Dead node
// becomes Alive. It runs on the goroutine that observed the recovery.
func (m *Monitor) SetOnRecovered(callback func(nodeID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovered = callback
}

// Start begins probing in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()

		m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.ProbeInterval))

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.ProbeAll(m.ctx)
			}
		}
	}()
}

// Stop stops probing and waits for the probe loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// ProbeAll probes every node once, concurrently, then applies timeouts.
func (m *Monitor) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, n := range m.nodes {
		wg.Add(1)
		go func(n node.Node) {
			defer wg.Done()
			m.probe(ctx, n)
		}(n)
	}
	wg.Wait()

	m.checkTimeouts()
}

// probe checks one node. Nodes that cannot report health count as reachable.
func (m *Monitor) probe(ctx context.Context, n node.Node) {
	checker, ok := n.(node.Checker)
	if !ok {
		m.MarkAlive(n.ID())
		return
	}

	err, done := quorum.Call(ctx, m.cfg.ProbeTimeout, checker.Check)
	if done && err == nil {
		m.MarkAlive(n.ID())
		return
	}

	m.mu.Lock()
	if member, exists := m.members[n.ID()]; exists {
		member.LastProbe = m.now()
		member.ConsecutiveFails++
	}
	m.mu.Unlock()

	m.logger.Debug("probe failed", zap.String("node_id", n.ID()), zap.Error(err))
}

// MarkAlive records that nodeID answered.
func (m *Monitor) MarkAlive(nodeID string) {
	m.mu.Lock()
	member, exists := m.members[nodeID]
	if !exists {
		m.mu.Unlock()
		return
	}

	prev := member.Status
	now := m.now()
	member.Status = Alive
	member.LastSeen = now
	member.LastProbe = now
	member.ConsecutiveFails = 0
	callback := m.onRecovered
	m.mu.Unlock()

	if prev != Alive {
		m.logger.Info("node recovered", zap.String("node_id", nodeID), zap.Stringer("was", prev))
		if callback != nil {
			callback(nodeID)
		}
	}
}

// MarkFailed records outside evidence that nodeID is unreachable, such as a
// failed hint replay. An Alive node becomes Suspect at once.
func (m *Monitor) MarkFailed(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, exists := m.members[nodeID]
	if !exists {
		return
	}
	member.ConsecutiveFails++
	if member.Status == Alive {
		member.Status = Suspect
		m.logger.Info("node suspected", zap.String("node_id", nodeID))
	}
}

// checkTimeouts moves nodes that have gone unseen to Suspect or Dead.
func (m *Monitor) checkTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, member := range m.members {
		unseen := now.Sub(member.LastSeen)
		switch member.Status {
		case Alive:
			if unseen >= m.cfg.SuspectTimeout {
				member.Status = Suspect
				m.logger.Info("node suspected", zap.String("node_id", member.ID), zap.Duration("unseen", unseen))
			}
		case Suspect:
			if unseen >= m.cfg.DeadTimeout {
				member.Status = Dead
				m.logger.Warn("node marked dead", zap.String("node_id", member.ID), zap.Duration("unseen", unseen))
			}
		}
	}
}

// Alive reports whether nodeID is currently considered reachable.
func (m *Monitor) Alive(nodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, exists := m.members[nodeID]
	return exists && member.Status == Alive
}

// Status returns the current status of nodeID.
func (m *Monitor) Status(nodeID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, exists := m.members[nodeID]
	if !exists {
		return Dead, false
	}
	return member.Status, true
}

// Snapshot returns a copy of every member in node order.
func (m *Monitor) Snapshot() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Member, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *m.members[n.ID()])
	}
	return out
}
