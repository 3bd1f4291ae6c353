package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lavabridge/pkg/retrylimit"
)

// NodeClient is the contract the router and players consume. *Node is the
// real websocket/REST implementation; tests substitute their own.
type NodeClient interface {
	ID() string
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	// SessionID is the backend session established over the node's own
	// connection. Empty until the node reported ready.
	SessionID() string
	UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate) error
	DestroyPlayer(ctx context.Context, guildID string) error
}

// VoiceCredentials is the token/endpoint/sessionId triple that authorizes
// the node's media connection for a guild.
type VoiceCredentials struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// PlayerUpdate is the partial player state pushed to a node. Nil fields are
// left untouched on the node side.
type PlayerUpdate struct {
	Voice   *VoiceCredentials `json:"voice,omitempty"`
	Paused  *bool             `json:"paused,omitempty"`
	Volume  *int              `json:"volume,omitempty"`
	Encoded *string           `json:"encodedTrack,omitempty"`
	Filters *Filters          `json:"filters,omitempty"`
}

// Filters is the subset of the node filter graph the control plane touches.
type Filters struct {
	Volume *float64 `json:"volume,omitempty"`
}

// Node is a client for one backend audio node: a websocket for inbound
// messages and REST for player commands.
type Node struct {
	opts      NodeOptions
	clientID  func() string
	userAgent string

	mu        sync.RWMutex
	ws        *websocket.Conn
	sessionID string
	connected bool

	http    *http.Client
	limiter *retrylimit.AdaptiveLimiter
}

type nodeMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	GuildID   string `json:"guildId,omitempty"`
	State     *struct {
		Connected bool  `json:"connected"`
		Position  int64 `json:"position"`
		Ping      int   `json:"ping"`
	} `json:"state,omitempty"`
}

// NewNode builds an unconnected node client. clientID is read lazily since
// the gateway identity may only be known at Init time; it and userAgent go
// into the handshake headers the node requires.
func NewNode(opts NodeOptions, clientID func() string, userAgent string) *Node {
	return &Node{
		opts:      opts,
		clientID:  clientID,
		userAgent: userAgent,
		http:      &http.Client{Timeout: 15 * time.Second},
		limiter:   retrylimit.NewAdaptiveLimiter(10, 1, 25, 1, 0.5),
	}
}

// ID returns the node identifier from its options.
func (n *Node) ID() string {
	if n.opts.ID != "" {
		return n.opts.ID
	}
	return fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
}

func (n *Node) scheme(ws bool) string {
	if ws {
		if n.opts.Secure {
			return "wss"
		}
		return "ws"
	}
	if n.opts.Secure {
		return "https"
	}
	return "http"
}

func (n *Node) restURL(path string) string {
	return fmt.Sprintf("%s://%s:%d/v4%s", n.scheme(false), n.opts.Host, n.opts.Port, path)
}

// Connect dials the node websocket and waits for the ready message that
// carries the backend session ID.
func (n *Node) Connect(ctx context.Context) error {
	n.mu.Lock()
	if n.connected {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", n.opts.Password)
	header.Set("User-Id", n.clientID())
	header.Set("Client-Name", n.userAgent)

	url := fmt.Sprintf("%s://%s:%d/v4/websocket", n.scheme(true), n.opts.Host, n.opts.Port)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("failed to dial node %s: %w", n.ID(), err)
	}

	// The node speaks first: the ready op carries sessionId.
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg nodeMessage
	if err := ws.ReadJSON(&msg); err != nil {
		ws.Close()
		return fmt.Errorf("failed to read ready message from node %s: %w", n.ID(), err)
	}
	if msg.Op != "ready" || msg.SessionID == "" {
		ws.Close()
		return fmt.Errorf("node %s sent %q before ready", n.ID(), msg.Op)
	}
	ws.SetReadDeadline(time.Time{})

	n.mu.Lock()
	n.ws = ws
	n.sessionID = msg.SessionID
	n.connected = true
	n.mu.Unlock()

	log.Printf("[Node] Connected to %s | session=%s resumed=%v", n.ID(), msg.SessionID, msg.Resumed)
	go n.listen(ws)
	return nil
}

// listen pumps inbound node messages until the socket dies.
func (n *Node) listen(ws *websocket.Conn) {
	defer func() {
		n.mu.Lock()
		if n.ws == ws {
			n.connected = false
		}
		n.mu.Unlock()
	}()

	for {
		var msg nodeMessage
		if err := ws.ReadJSON(&msg); err != nil {
			log.Printf("[Node] %s read error: %v", n.ID(), err)
			return
		}
		switch msg.Op {
		case "ready":
			n.mu.Lock()
			n.sessionID = msg.SessionID
			n.mu.Unlock()
		case "playerUpdate", "stats", "event":
			// Playback-plane traffic; the control plane has no use for it
			// beyond keeping the socket drained.
		default:
			log.Printf("[Node] %s unknown op %q", n.ID(), msg.Op)
		}
	}
}

// Close shuts down the websocket.
func (n *Node) Close() error {
	n.mu.Lock()
	ws := n.ws
	n.ws = nil
	n.connected = false
	n.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}

// Connected reports whether the websocket is up.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

// SessionID returns the backend session ID, or "" before ready.
func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// UpdatePlayer pushes partial player state for a guild over REST.
func (n *Node) UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode player update: %w", err)
	}
	path := fmt.Sprintf("/sessions/%s/players/%s?noReplace=false", n.SessionID(), guildID)
	return n.rest(ctx, http.MethodPatch, path, body)
}

// DestroyPlayer removes the guild's player on the node.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	path := fmt.Sprintf("/sessions/%s/players/%s", n.SessionID(), guildID)
	return n.rest(ctx, http.MethodDelete, path, nil)
}

// rest performs one REST call against the node, rate limited through the
// shared adaptive limiter.
func (n *Node) rest(ctx context.Context, method, path string, body []byte) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.restURL(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.opts.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.http.Do(req)
	if err != nil {
		n.limiter.RateLimited()
		return fmt.Errorf("node %s request failed: %w", n.ID(), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		n.limiter.RateLimited()
	} else {
		n.limiter.Success()
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("node %s responded %d to %s %s", n.ID(), resp.StatusCode, method, path)
	}
	return nil
}
