// Package history keeps the last few caption openings per user so new captions
// avoid repeating them.
package history

import (
	"context"
	"sync"
)

// Limit is how many openings are kept per user.
const Limit = 7

type Store interface {
	Recent(ctx context.Context, user string) ([]string, error)
	Push(ctx context.Context, user, prefix string) error
}

// Memory is a process-local store bounded in users and in openings per user.
type Memory struct {
	mu       sync.Mutex
	maxUsers int
	order    []string
	items    map[string][]string
}

func NewMemory(maxUsers int) *Memory {
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	return &Memory{maxUsers: maxUsers, items: map[string][]string{}}
}

func (m *Memory) Recent(ctx context.Context, user string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items[user]...), nil
}

// Push prepends prefix, newest first.
func (m *Memory) Push(ctx context.Context, user, prefix string) error {
	if prefix == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.items[user]
	if !ok {
		if len(m.order) >= m.maxUsers {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.items, oldest)
		}
		m.order = append(m.order, user)
	}
	list = append([]string{prefix}, list...)
	if len(list) > Limit {
		list = list[:Limit]
	}
	m.items[user] = list
	return nil
}

// Merge combines newest-first lists of openings, dropping blanks and duplicates
// while keeping order. The result holds at most Limit entries.
func Merge(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, p := range l {
			if p == "" || seen[p] {
				continue
			}
			if len(out) == Limit {
				return out
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
