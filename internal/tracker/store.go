package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrInvalidID is returned for an empty ID or one containing whitespace.
	ErrInvalidID = errors.New("invalid tv show id")
	// ErrAlreadyTracked is returned when adding a show that is already tracked.
	ErrAlreadyTracked = errors.New("already being tracked")
	// ErrNotTracked is returned when removing a show that is not tracked.
	ErrNotTracked = errors.New("not being tracked")
	// ErrStoreFull is returned when the store is at capacity. It is not in Failures and reaches
	// clients as a server error.
	ErrStoreFull = errors.New("tracked list is full")
)

// TVShow is a tracked TV show.
type TVShow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is the in-memory list of tracked shows. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	shows    map[string]TVShow
	capacity int // 0 means unbounded
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCapacity bounds the number of tracked shows.
func WithCapacity(n int) StoreOption {
	return func(s *Store) { s.capacity = n }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{shows: make(map[string]TVShow)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateID(id string) error {
	if id == "" || strings.ContainsFunc(id, unicode.IsSpace) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Add starts tracking show. An empty name defaults to the ID.
func (s *Store) Add(show TVShow) (TVShow, error) {
	if err := validateID(show.ID); err != nil {
		return TVShow{}, err
	}
	if show.Name == "" {
		show.Name = show.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shows[show.ID]; ok {
		return TVShow{}, fmt.Errorf("tv show %s: %w", show.ID, ErrAlreadyTracked)
	}
	if s.capacity > 0 && len(s.shows) >= s.capacity {
		return TVShow{}, ErrStoreFull
	}
	s.shows[show.ID] = show
	return show, nil
}

// Remove stops tracking the show with the given ID.
func (s *Store) Remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shows[id]; !ok {
		return fmt.Errorf("tv show %s: %w", id, ErrNotTracked)
	}
	delete(s.shows, id)
	return nil
}

// List returns the tracked shows ordered by ID. It never returns nil.
func (s *Store) List() []TVShow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shows := make([]TVShow, 0, len(s.shows))
	for _, show := range s.shows {
		shows = append(shows, show)
	}
	sort.Slice(shows, func(i, j int) bool { return shows[i].ID < shows[j].ID })
	return shows
}

// Len returns the number of tracked shows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shows)
}
