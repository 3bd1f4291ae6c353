package lavalink

import (
	"context"
	"log"
	"sort"
	"sync"
)

// NodeManager owns the pool of backend node clients.
type NodeManager struct {
	mu      sync.RWMutex
	nodes   map[string]NodeClient
	onError func(NodeClient, error)
}

// NewNodeManager creates an empty pool. onError is invoked for per-node
// connection failures; it may be nil.
func NewNodeManager(onError func(NodeClient, error)) *NodeManager {
	return &NodeManager{
		nodes:   make(map[string]NodeClient),
		onError: onError,
	}
}

// Add registers a node client, replacing any previous client with the same ID.
func (nm *NodeManager) Add(c NodeClient) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.nodes[c.ID()] = c
}

// Node looks up a node client by ID.
func (nm *NodeManager) Node(id string) (NodeClient, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	c, ok := nm.nodes[id]
	return c, ok
}

// Nodes returns all node clients in stable ID order.
func (nm *NodeManager) Nodes() []NodeClient {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	ids := make([]string, 0, len(nm.nodes))
	for id := range nm.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]NodeClient, 0, len(ids))
	for _, id := range ids {
		out = append(out, nm.nodes[id])
	}
	return out
}

// Least returns a connected node to place a new player on, or nil when none
// is available.
func (nm *NodeManager) Least() NodeClient {
	for _, c := range nm.Nodes() {
		if c.Connected() {
			return c
		}
	}
	return nil
}

// ConnectAll connects every node, best effort. Individual failures are
// logged and reported through onError; they never abort the others. Returns
// the number of nodes that came up.
func (nm *NodeManager) ConnectAll(ctx context.Context) int {
	var (
		wg      sync.WaitGroup
		countMu sync.Mutex
		success int
	)
	for _, c := range nm.Nodes() {
		wg.Add(1)
		go func(c NodeClient) {
			defer wg.Done()
			if err := c.Connect(ctx); err != nil {
				log.Printf("[ERR] Node %s failed to connect: %v", c.ID(), err)
				if nm.onError != nil {
					nm.onError(c, err)
				}
				return
			}
			countMu.Lock()
			success++
			countMu.Unlock()
		}(c)
	}
	wg.Wait()
	return success
}

// CloseAll closes every node connection.
func (nm *NodeManager) CloseAll() {
	for _, c := range nm.Nodes() {
		if err := c.Close(); err != nil {
			log.Printf("[ERR] Node %s close error: %v", c.ID(), err)
		}
	}
}
