package rewards

import (
	"log/slog"
	"sort"
	"sync"
)

// State is an in-memory Sink modelling the game-side bitfields and
// inventory. The headless client grants into it.
type State struct {
	mu        sync.Mutex
	logger    *slog.Logger
	inventory map[uint8]int
	obtained  map[int]bool
	upgrades  map[uint32]bool
	flags     map[string]map[uint32]bool
}

// NewState returns an empty State. A nil logger uses slog.Default.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		logger:    logger.With("component", "reward_state"),
		inventory: make(map[uint8]int),
		obtained:  make(map[int]bool),
		upgrades:  make(map[uint32]bool),
		flags:     make(map[string]map[uint32]bool),
	}
}

func (s *State) GrantItem(item uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[item]++
	s.logger.Debug("granted item", "item", item, "count", s.inventory[item])
	return nil
}

func (s *State) GrantBrush(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obtained[index] = true
	s.logger.Debug("granted brush", "brush", index)
	return nil
}

// GrantProgressiveBrush unlocks the base technique first, then the first
// upgrade bit not yet set. At max level it does nothing.
func (s *State) GrantProgressiveBrush(index int, upgrades []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.obtained[index] {
		s.obtained[index] = true
		s.logger.Debug("granted base progressive brush", "brush", index)
		return nil
	}
	for i, bit := range upgrades {
		if !s.upgrades[bit] {
			s.upgrades[bit] = true
			s.logger.Debug("granted brush upgrade", "brush", index, "level", i+2, "bit", bit)
			return nil
		}
	}
	s.logger.Debug("progressive brush already at max level", "brush", index)
	return nil
}

func (s *State) SetFlag(accessor string, bit uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bits, ok := s.flags[accessor]
	if !ok {
		bits = make(map[uint32]bool)
		s.flags[accessor] = bits
	}
	bits[bit] = true
	s.logger.Debug("set flag", "accessor", accessor, "bit", bit)
	return nil
}

// GrantProgressiveWeapon grants the stage after the highest one owned.
func (s *State) GrantProgressiveWeapon(stages []uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := -1
	for i, item := range stages {
		if s.inventory[item] > 0 {
			current = i
		}
	}
	next := current + 1
	if next >= len(stages) {
		s.logger.Debug("progressive weapon already at max stage")
		return nil
	}
	s.inventory[stages[next]]++
	s.logger.Debug("granted progressive weapon stage", "stage", next+1, "item", stages[next])
	return nil
}

func (s *State) Filler(message string) error {
	s.logger.Info("filler item", "message", message)
	return nil
}

// Count returns how many of item the player holds.
func (s *State) Count(item uint8) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory[item]
}

// HasBrush reports whether the technique is obtained.
func (s *State) HasBrush(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obtained[index]
}

// HasUpgrade reports whether a brush upgrade bit is set.
func (s *State) HasUpgrade(bit uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades[bit]
}

// FlagSet reports whether accessor has bit set.
func (s *State) FlagSet(accessor string, bit uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[accessor][bit]
}

// Items returns the held items ordered by id.
func (s *State) Items() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint8, 0, len(s.inventory))
	for item, n := range s.inventory {
		if n > 0 {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
