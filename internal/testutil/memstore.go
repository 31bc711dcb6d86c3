package testutil

import (
	"context"
	"sync"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// MemoryStore is a map-backed interfaces.RoomStore with failure injection
// and call counting.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]types.RoomRecord
	fail    bool
	calls   map[string]int
}

var _ interfaces.RoomStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]types.RoomRecord),
		calls:   make(map[string]int),
	}
}

// SetFailing makes every operation return ErrFakeStoreDisabled.
func (s *MemoryStore) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Put seeds a record directly.
func (s *MemoryStore) Put(record types.RoomRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Transcript = append([]types.TranscriptEntry(nil), record.Transcript...)
	s.records[record.RoomCode] = record
}

// Record returns the stored record without counting a call.
func (s *MemoryStore) Record(code string) (types.RoomRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[code]
	return r, ok
}

func (s *MemoryStore) begin(op string) error {
	s.calls[op]++
	if s.fail {
		return ErrFakeStoreDisabled
	}
	return nil
}

func (s *MemoryStore) SaveRoom(ctx context.Context, record *types.RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("save"); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}
	stored := *record
	stored.Transcript = append([]types.TranscriptEntry(nil), record.Transcript...)
	s.records[record.RoomCode] = stored
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, code string) (*types.RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("get"); err != nil {
		return nil, err
	}
	r, ok := s.records[code]
	if !ok {
		return nil, interfaces.ErrRoomNotFound
	}
	r.Transcript = append([]types.TranscriptEntry(nil), r.Transcript...)
	return &r, nil
}

func (s *MemoryStore) RoomExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("exists"); err != nil {
		return false, err
	}
	_, ok := s.records[code]
	return ok, nil
}

func (s *MemoryStore) UpdateTranscript(ctx context.Context, code string, transcript []types.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("update_transcript"); err != nil {
		return err
	}
	r, ok := s.records[code]
	if !ok {
		return interfaces.ErrRoomNotFound
	}
	r.Transcript = append([]types.TranscriptEntry(nil), transcript...)
	s.records[code] = r
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete"); err != nil {
		return err
	}
	delete(s.records, code)
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin("health")
}

func (s *MemoryStore) Close() error { return nil }
