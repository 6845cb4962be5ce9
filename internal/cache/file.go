package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/UnknownOlympus/pinpoint/internal/models"
)

// point is the on-disk shape of a resolved entry.
type point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// storedPoint is the decoding shape; missing fields are detected as nil.
type storedPoint struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

var (
	// ErrNotAnObject is returned when the cache document is not a JSON object.
	ErrNotAnObject = errors.New("cache document is not an object")
	// ErrInvalidEntry is returned for an entry missing a coordinate or out of range.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// FileStore keeps the whole cache in memory and rewrites the JSON document
// after every new entry, so a crash loses at most the entry in progress.
type FileStore struct {
	path    string
	entries map[string]*point
	log     *slog.Logger
}

// Open loads the cache document at path. A missing file yields an empty cache;
// a malformed one is an error.
func Open(path string, log *slog.Logger) (*FileStore, error) {
	store := &FileStore{
		path:    path,
		entries: make(map[string]*point),
		log:     log,
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read cache file: %w", err)
		}
		log.Debug("Cache file does not exist yet, starting empty", "path", path)
		return store, nil
	}

	if len(bytes.TrimSpace(data)) != 0 {
		if err = store.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse cache file %s: %w", path, err)
		}
	}

	log.Debug("Cache loaded", "path", path, "entries", len(store.entries))

	return store, nil
}

func (s *FileStore) decode(data []byte) error {
	var raw map[string]*storedPoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return ErrNotAnObject
	}

	for query, entry := range raw {
		if entry == nil {
			s.entries[query] = nil
			continue
		}
		if entry.Lat == nil || entry.Lng == nil {
			return fmt.Errorf("%w %q: missing lat or lng", ErrInvalidEntry, query)
		}
		coords := models.Coordinates{Latitude: *entry.Lat, Longitude: *entry.Lng}
		if !coords.Valid() {
			return fmt.Errorf("%w %q: coordinates out of range", ErrInvalidEntry, query)
		}
		s.entries[query] = &point{Lat: coords.Latitude, Lng: coords.Longitude}
	}

	return nil
}

// Get returns the cached answer for query.
func (s *FileStore) Get(_ context.Context, query string) (*models.Coordinates, bool, error) {
	entry, ok := s.entries[query]
	if !ok {
		return nil, false, nil
	}
	if entry == nil {
		return nil, true, nil
	}

	return &models.Coordinates{Latitude: entry.Lat, Longitude: entry.Lng}, true, nil
}

// Put records the answer for query and saves the document. Existing keys are
// never overwritten.
func (s *FileStore) Put(_ context.Context, query string, coords *models.Coordinates) error {
	if _, ok := s.entries[query]; ok {
		return nil
	}

	var entry *point
	if coords != nil {
		entry = &point{Lat: coords.Latitude, Lng: coords.Longitude}
	}
	s.entries[query] = entry

	return s.Save()
}

// Len returns the number of cached queries.
func (s *FileStore) Len() int {
	return len(s.entries)
}

// Save serializes the full mapping and overwrites the cache file.
func (s *FileStore) Save() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.entries); err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if err := os.WriteFile(s.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}
