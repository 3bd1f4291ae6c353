package lavalink

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
)

// Track is the queue's unit of playback. Only control-plane fields live
// here; resolving and streaming tracks is the node's business.
type Track struct {
	Encoded   string `json:"encoded"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	URI       string `json:"uri,omitempty"`
	Requester any    `json:"requester,omitempty"`
}

// QueueStore persists serialized queues keyed by guild ID. Implementations
// must satisfy the full set of operations; partial stores are rejected by
// the compiler rather than at runtime.
type QueueStore interface {
	Get(ctx context.Context, guildID string) (string, error)
	Set(ctx context.Context, guildID string, raw string) error
	Delete(ctx context.Context, guildID string) error
	Stringify(tracks []Track) (string, error)
	Parse(raw string) ([]Track, error)
}

// QueueChangesWatcher observes queue mutations, e.g. for audit logging or
// live dashboards.
type QueueChangesWatcher interface {
	TracksAdd(guildID string, tracks []Track, position int)
	TracksRemoved(guildID string, tracks []Track, position int)
	Shuffled(guildID string, before, after []Track)
}

// MemoryQueueStore is the default store: a mutex-guarded in-process map.
type MemoryQueueStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryQueueStore creates an empty in-memory queue store.
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{data: make(map[string]string)}
}

// Get returns the stored queue for a guild, or "" when absent.
func (s *MemoryQueueStore) Get(_ context.Context, guildID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[guildID], nil
}

// Set stores the serialized queue for a guild.
func (s *MemoryQueueStore) Set(_ context.Context, guildID string, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[guildID] = raw
	return nil
}

// Delete removes the stored queue for a guild.
func (s *MemoryQueueStore) Delete(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, guildID)
	return nil
}

// Stringify encodes tracks as JSON.
func (s *MemoryQueueStore) Stringify(tracks []Track) (string, error) {
	return stringifyTracks(tracks)
}

// Parse decodes tracks from JSON.
func (s *MemoryQueueStore) Parse(raw string) ([]Track, error) {
	return parseTracks(raw)
}

func stringifyTracks(tracks []Track) (string, error) {
	b, err := json.Marshal(tracks)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseTracks(raw string) ([]Track, error) {
	if raw == "" {
		return nil, nil
	}
	var tracks []Track
	if err := json.Unmarshal([]byte(raw), &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// Queue holds the upcoming and previously played tracks of one player.
// Mutations are persisted through the configured store and reported to the
// watcher when one is set.
type Queue struct {
	mu       sync.Mutex
	guildID  string
	store    QueueStore
	watcher  QueueChangesWatcher
	maxPrev  int
	tracks   []Track
	previous []Track
}

func newQueue(guildID string, cfg QueueConfig) *Queue {
	return &Queue{
		guildID: guildID,
		store:   cfg.Store,
		watcher: cfg.Watcher,
		maxPrev: cfg.MaxPreviousTracks,
	}
}

// Add appends tracks to the end of the queue.
func (q *Queue) Add(ctx context.Context, tracks ...Track) error {
	q.mu.Lock()
	position := len(q.tracks)
	q.tracks = append(q.tracks, tracks...)
	q.mu.Unlock()

	if q.watcher != nil {
		q.watcher.TracksAdd(q.guildID, tracks, position)
	}
	return q.persist(ctx)
}

// Shift removes and returns the next track, recording it in the previous
// list which is capped at MaxPreviousTracks.
func (q *Queue) Shift(ctx context.Context) (*Track, error) {
	q.mu.Lock()
	if len(q.tracks) == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	track := q.tracks[0]
	q.tracks = q.tracks[1:]
	q.previous = append(q.previous, track)
	if len(q.previous) > q.maxPrev {
		q.previous = q.previous[len(q.previous)-q.maxPrev:]
	}
	q.mu.Unlock()

	if err := q.persist(ctx); err != nil {
		return nil, err
	}
	return &track, nil
}

// Remove deletes count tracks starting at position.
func (q *Queue) Remove(ctx context.Context, position, count int) error {
	q.mu.Lock()
	if position < 0 || position >= len(q.tracks) || count <= 0 {
		q.mu.Unlock()
		return nil
	}
	end := position + count
	if end > len(q.tracks) {
		end = len(q.tracks)
	}
	removed := append([]Track(nil), q.tracks[position:end]...)
	q.tracks = append(q.tracks[:position], q.tracks[end:]...)
	q.mu.Unlock()

	if q.watcher != nil {
		q.watcher.TracksRemoved(q.guildID, removed, position)
	}
	return q.persist(ctx)
}

// Shuffle randomizes the queue order.
func (q *Queue) Shuffle(ctx context.Context) error {
	q.mu.Lock()
	before := append([]Track(nil), q.tracks...)
	rand.Shuffle(len(q.tracks), func(i, j int) {
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	})
	after := append([]Track(nil), q.tracks...)
	q.mu.Unlock()

	if q.watcher != nil {
		q.watcher.Shuffled(q.guildID, before, after)
	}
	return q.persist(ctx)
}

// Tracks returns a copy of the upcoming tracks.
func (q *Queue) Tracks() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Track(nil), q.tracks...)
}

// Previous returns a copy of the played tracks, newest last.
func (q *Queue) Previous() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Track(nil), q.previous...)
}

func (q *Queue) persist(ctx context.Context) error {
	q.mu.Lock()
	tracks := append([]Track(nil), q.tracks...)
	q.mu.Unlock()

	raw, err := q.store.Stringify(tracks)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, q.guildID, raw)
}

// load restores the queue from the store, used when a player is recreated
// for a guild that still has persisted tracks.
func (q *Queue) load(ctx context.Context) error {
	raw, err := q.store.Get(ctx, q.guildID)
	if err != nil {
		return err
	}
	tracks, err := q.store.Parse(raw)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.tracks = tracks
	q.mu.Unlock()
	return nil
}
