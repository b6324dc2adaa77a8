package testutil

import (
	"fmt"
	"sync"
)

// RecordingSink records every grant in call order. It satisfies rewards.Sink.
type RecordingSink struct {
	mu    sync.Mutex
	calls []string

	// Fail makes the call with this description return an error.
	Fail string
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != "" && call == s.Fail {
		return fmt.Errorf("sink refused %s", call)
	}
	s.calls = append(s.calls, call)
	return nil
}

func (s *RecordingSink) GrantItem(item uint8) error {
	return s.record(fmt.Sprintf("item 0x%02X", item))
}

func (s *RecordingSink) GrantBrush(index int) error {
	return s.record(fmt.Sprintf("brush %d", index))
}

func (s *RecordingSink) GrantProgressiveBrush(index int, upgrades []uint32) error {
	return s.record(fmt.Sprintf("progressive brush %d", index))
}

func (s *RecordingSink) SetFlag(accessor string, bit uint32) error {
	return s.record(fmt.Sprintf("flag %s:%d", accessor, bit))
}

func (s *RecordingSink) GrantProgressiveWeapon(stages []uint8) error {
	return s.record(fmt.Sprintf("progressive weapon %v", stages))
}

func (s *RecordingSink) Filler(message string) error {
	return s.record("filler " + message)
}

// Calls returns the recorded grants.
func (s *RecordingSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Reset forgets recorded grants.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
