// Package mutations runs the client-side write protocol: optimistic paint, durable enqueue,
// direct delivery, then invalidate or roll back according to the classified outcome.
package mutations

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/optimistic"
)

// Key addresses one cached value.
type Key string

// HabitsKey addresses the habit list.
const HabitsKey Key = "habits"

const streakKeyPrefix = "streak:"

// StreakKey addresses the streak summary of one habit.
func StreakKey(habitID string) Key {
	return Key(streakKeyPrefix + habitID)
}

// Cache is the query cache the pipeline paints into.
type Cache interface {
	Get(key Key) (optimistic.State, bool)
	Set(key Key, state optimistic.State)
	Invalidate(ctx context.Context, key Key) error
}

var errUnknownKey = errors.New("mutations: unknown cache key")

// MemoryCache keeps states in memory and refetches on invalidation when a reader is set.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key]optimistic.State
	reader  habits.Reader
}

// NewMemoryCache returns an empty cache. A nil reader turns invalidation into eviction.
func NewMemoryCache(reader habits.Reader) *MemoryCache {
	return &MemoryCache{entries: make(map[Key]optimistic.State), reader: reader}
}

func (c *MemoryCache) Get(key Key) (optimistic.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.entries[key]
	return state, ok
}

func (c *MemoryCache) Set(key Key, state optimistic.State) {
	c.mu.Lock()
	c.entries[key] = state
	c.mu.Unlock()
}

// Invalidate evicts key and, with a reader, replaces it with authoritative state.
func (c *MemoryCache) Invalidate(ctx context.Context, key Key) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	state, err := c.fetch(ctx, key)
	if err != nil {
		return err
	}
	c.Set(key, state)
	return nil
}

// Load fetches key and stores it.
func (c *MemoryCache) Load(ctx context.Context, key Key) (optimistic.State, error) {
	if c.reader == nil {
		return optimistic.State{}, errors.New("mutations: cache has no reader")
	}
	state, err := c.fetch(ctx, key)
	if err != nil {
		return optimistic.State{}, err
	}
	c.Set(key, state)
	return state, nil
}

func (c *MemoryCache) fetch(ctx context.Context, key Key) (optimistic.State, error) {
	switch {
	case key == HabitsKey:
		list, err := c.reader.ListHabits(ctx)
		if err != nil {
			return optimistic.State{}, err
		}
		return optimistic.HabitList(list), nil
	case strings.HasPrefix(string(key), streakKeyPrefix):
		summary, err := c.reader.GetStreak(ctx, strings.TrimPrefix(string(key), streakKeyPrefix))
		if err != nil {
			return optimistic.State{}, err
		}
		return optimistic.StreakSummary(summary), nil
	default:
		return optimistic.State{}, errUnknownKey
	}
}
