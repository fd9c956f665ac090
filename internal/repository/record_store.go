package repository

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/domain"
)

const DefaultHistorySize = 6

// RecordStore owns the current image and the bounded, most-recent-first
// history. All reads return copies; all writes go through its methods.
type RecordStore interface {
	SetCurrent(record *domain.ImageRecord)
	SelectCurrent(id string) (domain.ImageRecord, error)
	AddToHistory(record domain.ImageRecord)
	UpdateByID(id string, update domain.RecordUpdate) (domain.ImageRecord, error)
	Transition(id string, allowed []domain.Status, update domain.RecordUpdate) (domain.ImageRecord, error)
	Get(id string) (domain.ImageRecord, error)
	Current() (domain.ImageRecord, bool)
	History() []domain.ImageRecord
}

type memoryRecordStore struct {
	mu       sync.RWMutex
	capacity int
	current  *domain.ImageRecord
	history  []domain.ImageRecord
	log      *zap.Logger
}

func NewRecordStore(capacity int, log *zap.Logger) RecordStore {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &memoryRecordStore{
		capacity: capacity,
		history:  make([]domain.ImageRecord, 0, capacity),
		log:      log,
	}
}

func (s *memoryRecordStore) SetCurrent(record *domain.ImageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record == nil {
		s.current = nil
		return
	}
	cp := *record
	s.current = &cp
}

func (s *memoryRecordStore) SelectCurrent(id string) (domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return domain.ImageRecord{}, fmt.Errorf("select %s: %w", id, domain.ErrNotFound)
	}
	cp := s.history[idx]
	s.current = &cp
	return cp, nil
}

// AddToHistory prepends record and evicts the oldest entries past capacity.
// An entry with the same id is replaced and moved to the front.
func (s *memoryRecordStore) AddToHistory(record domain.ImageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.ImageRecord, 0, s.capacity)
	next = append(next, record)
	for _, r := range s.history {
		if r.ID == record.ID {
			continue
		}
		if len(next) == s.capacity {
			s.log.Debug("Evicting image from history", zap.String("id", r.ID))
			continue
		}
		next = append(next, r)
	}
	s.history = next
}

func (s *memoryRecordStore) UpdateByID(id string, update domain.RecordUpdate) (domain.ImageRecord, error) {
	return s.Transition(id, nil, update)
}

// Transition applies update only when the record's status is one of allowed.
// A nil allowed list accepts any status. The check and the write happen under
// one lock, so two callers cannot both move a record out of the same state.
func (s *memoryRecordStore) Transition(id string, allowed []domain.Status, update domain.RecordUpdate) (domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	inCurrent := s.current != nil && s.current.ID == id

	var base domain.ImageRecord
	switch {
	case idx >= 0:
		base = s.history[idx]
	case inCurrent:
		base = *s.current
	default:
		return domain.ImageRecord{}, fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}

	if allowed != nil && !statusIn(base.Status, allowed) {
		if base.Status == domain.StatusProcessing {
			return base, domain.ErrBusy
		}
		return base, fmt.Errorf("%w: from %s", domain.ErrInvalidTransition, base.Status)
	}

	next := update.Apply(base)
	if err := next.Validate(); err != nil {
		return base, fmt.Errorf("update %s: %w", id, err)
	}

	if idx >= 0 {
		s.history[idx] = next
	}
	if inCurrent {
		cur := update.Apply(*s.current)
		s.current = &cur
	}
	return next, nil
}

func (s *memoryRecordStore) Get(id string) (domain.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(id); idx >= 0 {
		return s.history[idx], nil
	}
	if s.current != nil && s.current.ID == id {
		return *s.current, nil
	}
	return domain.ImageRecord{}, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
}

func (s *memoryRecordStore) Current() (domain.ImageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return domain.ImageRecord{}, false
	}
	return *s.current, true
}

func (s *memoryRecordStore) History() []domain.ImageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ImageRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *memoryRecordStore) indexOf(id string) int {
	for i, r := range s.history {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func statusIn(s domain.Status, allowed []domain.Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
