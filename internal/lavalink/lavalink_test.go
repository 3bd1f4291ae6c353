package lavalink

import (
	"context"
	"sync"
)

// fakeNode is an in-memory stand-in for a backend node.
type fakeNode struct {
	id string

	mu         sync.Mutex
	sessionID  string
	connected  bool
	connectErr error
	updateErr  error
	connects   int
	updates    []recordedUpdate
	destroyed  []string
}

type recordedUpdate struct {
	guildID string
	update  PlayerUpdate
}

func newFakeNode(id string) *fakeNode {
	return &fakeNode{id: id, sessionID: "backend-session"}
}

func (f *fakeNode) ID() string { return f.id }

func (f *fakeNode) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeNode) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeNode) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeNode) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

func (f *fakeNode) setSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
}

func (f *fakeNode) UpdatePlayer(_ context.Context, guildID string, update PlayerUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, recordedUpdate{guildID: guildID, update: update})
	return nil
}

func (f *fakeNode) DestroyPlayer(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, guildID)
	return nil
}

func (f *fakeNode) recordedUpdates() []recordedUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedUpdate(nil), f.updates...)
}

func (f *fakeNode) destroyedGuilds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyed...)
}

// shardRecorder records outbound gateway payloads and can fail on demand.
type shardRecorder struct {
	mu       sync.Mutex
	requests []VoiceStateRequest
	err      error
}

func (r *shardRecorder) send(_ context.Context, req VoiceStateRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.requests = append(r.requests, req)
	return nil
}

func (r *shardRecorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *shardRecorder) sent() []VoiceStateRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]VoiceStateRequest(nil), r.requests...)
}

// drainEvents empties the manager's event channel.
func drainEvents(m *Manager) []Event {
	var out []Event
	for {
		select {
		case ev := <-m.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
