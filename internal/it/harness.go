// Package it runs coordinator scenarios against node servers listening on
// real TCP sockets.
package it

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"kvcoord/internal/config"
	"kvcoord/internal/node"
	"kvcoord/internal/storage"
)

// Cluster represents a set of node servers on loopback addresses.
type Cluster struct {
	mu     sync.Mutex
	nodes  map[string]*Node
	order  []string
	logger *zap.Logger
}

// Node represents a single node server in the cluster. Its store outlives
// restarts.
type Node struct {
	ID    string
	Addr  string
	Store *storage.InMemoryStore

	server *node.Server
	done   chan error
}

// NewCluster creates an empty cluster.
func NewCluster(logger *zap.Logger) *Cluster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cluster{
		nodes:  make(map[string]*Node),
		logger: logger,
	}
}

// StartNode starts a node on a free loopback port.
func (c *Cluster) StartNode(nodeID string) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[nodeID]; exists {
		return nil, fmt.Errorf("node %s already exists", nodeID)
	}

	n := &Node{ID: nodeID, Store: storage.NewInMemoryStore()}
	if err := c.serve(n, "127.0.0.1:0"); err != nil {
		return nil, err
	}

	c.nodes[nodeID] = n
	c.order = append(c.order, nodeID)
	return n, nil
}

// StartCluster starts nodes with the given IDs.
func (c *Cluster) StartCluster(ids ...string) error {
	for _, id := range ids {
		if _, err := c.StartNode(id); err != nil {
			c.Stop()
			return err
		}
	}
	return nil
}

// StopNode stops a node's server, keeping its store and address.
func (c *Cluster) StopNode(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	n.stop()
	return nil
}

// RestartNode serves a stopped node again on its old address with its old
// store.
func (c *Cluster) RestartNode(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if n.server != nil {
		return fmt.Errorf("node %s is running", nodeID)
	}
	return c.serve(n, n.Addr)
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[nodeID]
}

// Peers returns the nodes as coordinator peers, in start order.
func (c *Cluster) Peers() []config.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := make([]config.Peer, 0, len(c.order))
	for _, id := range c.order {
		peers = append(peers, config.Peer{ID: id, Addr: c.nodes[id].Addr})
	}
	return peers
}

// Stop stops every running node.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.stop()
	}
}

func (c *Cluster) serve(n *Node, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for node %s: %w", n.ID, err)
	}

	n.Addr = lis.Addr().String()
	n.server = node.NewServer(n.ID, n.Store, c.logger)
	n.done = make(chan error, 1)

	srv, done := n.server, n.done
	go func() {
		err := srv.Serve(lis)
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		done <- err
	}()
	return nil
}

func (n *Node) stop() {
	if n.server == nil {
		return
	}
	n.server.Stop()
	<-n.done
	n.server = nil
}
