package keys

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryService keeps keys in process memory, for tests and single-binary
// demo deployments.
type MemoryService struct {
	mu       sync.Mutex
	keyBytes int
	nextID   int64
	byID     map[int64]*Key
	byValue  map[string]int64
}

func NewMemoryService(keyBytes int) *MemoryService {
	return &MemoryService{
		keyBytes: keyBytes,
		byID:     make(map[int64]*Key),
		byValue:  make(map[string]int64),
	}
}

func (s *MemoryService) Close() error { return nil }

func (s *MemoryService) Mint(_ context.Context, experimentID int64, count int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]string, 0, count)
	now := time.Now().UTC()
	for len(values) < count {
		value := generateKeyValue(s.keyBytes)
		if _, exists := s.byValue[value]; exists {
			continue
		}
		s.nextID++
		k := &Key{
			ID:           s.nextID,
			ExperimentID: experimentID,
			Value:        value,
			Status:       StatusUnused,
			CreatedAt:    now,
		}
		s.byID[k.ID] = k
		s.byValue[value] = k.ID
		values = append(values, value)
	}
	return values, nil
}

func (s *MemoryService) Validate(_ context.Context, value string) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byValue[value]
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	k := s.byID[id]
	if err := statusError(k.Status); err != nil {
		return Key{}, err
	}
	return *k, nil
}

func (s *MemoryService) Consume(_ context.Context, keyID int64, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byID[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	if k.Status != StatusUnused {
		return ErrKeyUsed
	}
	k.Status = StatusUsed
	t := usedAt.UTC()
	k.UsedAt = &t
	return nil
}

func (s *MemoryService) Revoke(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byValue[value]
	if !ok {
		return ErrKeyNotFound
	}
	k := s.byID[id]
	if k.Status == StatusUsed {
		return ErrKeyUsed
	}
	if k.Status == StatusRevoked {
		return nil
	}
	k.Status = StatusRevoked
	now := time.Now().UTC()
	k.RevokedAt = &now
	return nil
}

func (s *MemoryService) ListForExperiment(_ context.Context, experimentID int64) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Key
	for _, k := range s.byID {
		if k.ExperimentID == experimentID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
