// Package memory is the in-memory finance export used by tests and
// offline development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"trasferte/internal/core"
)

type Store struct {
	mu   sync.Mutex
	rows []core.Expense
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, e core.Expense) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Expense, len(s.rows))
	copy(out, s.rows)
	return out
}
