package rewards

import "fmt"

// Sink applies rewards to the game.
type Sink interface {
	GrantItem(item uint8) error
	GrantBrush(index int) error
	GrantProgressiveBrush(index int, upgrades []uint32) error
	SetFlag(accessor string, bit uint32) error
	GrantProgressiveWeapon(stages []uint8) error
	Filler(message string) error
}

// Dispatch hands r to the Sink method for its kind.
func Dispatch(sink Sink, r Reward) error {
	var err error
	switch k := r.Kind.(type) {
	case GameItem:
		err = sink.GrantItem(k.Item)
	case Brush:
		err = sink.GrantBrush(k.Index)
	case ProgressiveBrush:
		err = sink.GrantProgressiveBrush(k.Index, k.Upgrades)
	case EventFlags:
		for _, f := range k.Flags {
			if !knownAccessor(f.Accessor) {
				return &Error{Code: ErrCodeUnknownAccessor, ItemID: r.ID, Message: "unknown accessor " + f.Accessor}
			}
		}
		for _, f := range k.Flags {
			if err = sink.SetFlag(f.Accessor, f.Bit); err != nil {
				break
			}
		}
	case ProgressiveWeapon:
		err = sink.GrantProgressiveWeapon(k.Stages)
	case Filler:
		err = sink.Filler(k.Message)
	case nil:
		return &Error{Code: ErrCodeUnknownCategory, ItemID: r.ID, Message: "reward has no kind"}
	default:
		panic(fmt.Sprintf("rewards: unhandled kind %T", k))
	}
	if err != nil {
		return &Error{Code: ErrCodeGrantFailed, ItemID: r.ID, Message: r.Name, Err: err}
	}
	return nil
}

func knownAccessor(name string) bool {
	return name == AccessorKeyItems || name == AccessorGoldDusts
}
