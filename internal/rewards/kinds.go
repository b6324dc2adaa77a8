// Package rewards maps Archipelago item ids to the grants they represent.
//
// An item id resolves to a Reward whose Kind is one of a closed set of
// types. Dispatch hands each kind to the matching Sink method; the engine
// decides what to grant and when, the Sink decides how.
package rewards

import "fmt"

// Id ranges.
const (
	GameItemMax           int64 = 0xFF
	BrushBase             int64 = 0x100
	BrushEnd              int64 = 0x115
	ProgressiveWeaponBase int64 = 0x300
	ProgressiveWeaponEnd  int64 = 0x302
	EventFlagBase         int64 = 0x303
	EventFlagEnd          int64 = 0x308
)

// Accessors that EventFlags may target.
const (
	AccessorKeyItems  = "keyItemsAcquired"
	AccessorGoldDusts = "goldDustsAcquired"
)

// Kind is implemented only by the reward kinds in this package.
type Kind interface {
	isKind()
	String() string
}

// GameItem adds one of an inventory item.
type GameItem struct {
	Item uint8
}

// Brush unlocks a brush technique.
type Brush struct {
	Index int
}

// ProgressiveBrush unlocks the base technique, then each upgrade bit in turn.
type ProgressiveBrush struct {
	Index    int
	Upgrades []uint32
}

// Flag is a single bit in a named game-state bitfield.
type Flag struct {
	Accessor string `yaml:"accessor"`
	Bit      uint32 `yaml:"bit"`
}

// EventFlags sets one or more bits.
type EventFlags struct {
	Flags []Flag
}

// ProgressiveWeapon grants the next stage the player does not own.
type ProgressiveWeapon struct {
	Stages []uint8
}

// Filler has no game effect.
type Filler struct {
	Message string
}

func (GameItem) isKind()          {}
func (Brush) isKind()             {}
func (ProgressiveBrush) isKind()  {}
func (EventFlags) isKind()        {}
func (ProgressiveWeapon) isKind() {}
func (Filler) isKind()            {}

func (k GameItem) String() string { return fmt.Sprintf("item 0x%02X", k.Item) }
func (k Brush) String() string    { return fmt.Sprintf("brush %d", k.Index) }
func (k ProgressiveBrush) String() string {
	return fmt.Sprintf("progressive brush %d (%d upgrades)", k.Index, len(k.Upgrades))
}
func (k EventFlags) String() string { return fmt.Sprintf("%d event flag(s)", len(k.Flags)) }
func (k ProgressiveWeapon) String() string {
	return fmt.Sprintf("progressive weapon (%d stages)", len(k.Stages))
}
func (k Filler) String() string { return "filler" }

// Reward is a resolved item id.
type Reward struct {
	ID   int64
	Name string
	Kind Kind
}

// Category is the id range an item id falls in.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryGameItem
	CategoryBrush
	CategoryProgressiveWeapon
	CategoryEventFlag
)

func (c Category) String() string {
	switch c {
	case CategoryGameItem:
		return "game_item"
	case CategoryBrush:
		return "brush"
	case CategoryProgressiveWeapon:
		return "progressive_weapon"
	case CategoryEventFlag:
		return "event_flag"
	default:
		return "unknown"
	}
}

// CategoryOf classifies id by range.
func CategoryOf(id int64) Category {
	switch {
	case id >= 0 && id <= GameItemMax:
		return CategoryGameItem
	case id >= BrushBase && id <= BrushEnd:
		return CategoryBrush
	case id >= ProgressiveWeaponBase && id <= ProgressiveWeaponEnd:
		return CategoryProgressiveWeapon
	case id >= EventFlagBase && id <= EventFlagEnd:
		return CategoryEventFlag
	default:
		return CategoryUnknown
	}
}
