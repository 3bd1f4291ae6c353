// /internal/queuestore/codec.go
package queuestore

import (
	"encoding/json"

	"lavabridge/internal/lavalink"
)

func encodeTracks(tracks []lavalink.Track) (string, error) {
	b, err := json.Marshal(tracks)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTracks(raw string) ([]lavalink.Track, error) {
	if raw == "" {
		return nil, nil
	}
	var tracks []lavalink.Track
	if err := json.Unmarshal([]byte(raw), &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}
