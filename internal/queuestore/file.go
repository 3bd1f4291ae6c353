// /internal/queuestore/file.go
package queuestore

import (
	"context"
	"fmt"

	"github.com/keshon/datastore"

	"lavabridge/internal/lavalink"
)

const fileKeyPrefix = "queue:"

// FileQueueStore persists queues in a JSON file through the datastore
// package, surviving restarts without any external service.
type FileQueueStore struct {
	ds *datastore.DataStore
}

// NewFileQueueStore opens (or creates) the backing file. The datastore's
// autosave goroutine runs until Close.
func NewFileQueueStore(filePath string) (*FileQueueStore, error) {
	ds, err := datastore.New(context.Background(), filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store file: %w", err)
	}
	return &FileQueueStore{ds: ds}, nil
}

// Close flushes and closes the backing file.
func (s *FileQueueStore) Close() error {
	return s.ds.Close()
}

// Get returns the stored queue for a guild, or "" when absent.
func (s *FileQueueStore) Get(_ context.Context, guildID string) (string, error) {
	var raw string
	ok, err := s.ds.Get(fileKeyPrefix+guildID, &raw)
	if err != nil {
		return "", fmt.Errorf("failed to read queue for guild %s: %w", guildID, err)
	}
	if !ok {
		return "", nil
	}
	return raw, nil
}

// Set stores the serialized queue for a guild.
func (s *FileQueueStore) Set(_ context.Context, guildID string, raw string) error {
	if err := s.ds.Set(fileKeyPrefix+guildID, raw); err != nil {
		return fmt.Errorf("failed to store queue for guild %s: %w", guildID, err)
	}
	return nil
}

// Delete removes the stored queue for a guild.
func (s *FileQueueStore) Delete(_ context.Context, guildID string) error {
	return s.ds.Delete(fileKeyPrefix + guildID)
}

// Stringify encodes tracks for storage.
func (s *FileQueueStore) Stringify(tracks []lavalink.Track) (string, error) {
	return encodeTracks(tracks)
}

// Parse decodes tracks from storage.
func (s *FileQueueStore) Parse(raw string) ([]lavalink.Track, error) {
	return decodeTracks(raw)
}
