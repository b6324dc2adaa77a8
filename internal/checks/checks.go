// Package checks computes location check ids.
//
// A check id is a wire-contract value shared with the world generator: each
// category owns a range starting at a fixed base, and the id encodes the
// game-side identifiers inside that range.
//
//	100000 + item                     item pickup
//	200000 + brush                    brush acquisition
//	300000 + shop*1000 + slot         shop purchase
//	400000 + map*10000 + bit          world state change
//	500000 + map*10000 + bit          collected object
//	600000 + map*10000 + bit          area restored
//	700000 + bit                      global flag
//	800000 + bit                      game progress
//	900000 + (level<<8) + spawn       container pickup
package checks

// Range bases.
const (
	ItemPickupBase       int64 = 100000
	BrushAcquisitionBase int64 = 200000
	ShopPurchaseBase     int64 = 300000
	WorldStateBase       int64 = 400000
	CollectedObjectBase  int64 = 500000
	AreaRestoredBase     int64 = 600000
	GlobalFlagBase       int64 = 700000
	GameProgressBase     int64 = 800000
	ContainerBase        int64 = 900000
)

// Category classifies a check id by range.
type Category int

const (
	Unknown Category = iota
	ItemPickup
	BrushAcquisition
	ShopPurchase
	WorldState
	CollectedObject
	AreaRestored
	GlobalFlag
	GameProgress
	Container
)

var categoryNames = [...]string{
	Unknown:          "unknown",
	ItemPickup:       "item_pickup",
	BrushAcquisition: "brush",
	ShopPurchase:     "shop",
	WorldState:       "world_state",
	CollectedObject:  "collected_object",
	AreaRestored:     "area_restored",
	GlobalFlag:       "global_flag",
	GameProgress:     "game_progress",
	Container:        "container",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return categoryNames[Unknown]
	}
	return categoryNames[c]
}

func ItemPickupID(item int) int64 { return ItemPickupBase + int64(item) }

func BrushID(brush int) int64 { return BrushAcquisitionBase + int64(brush) }

func ShopID(shop, slot int) int64 { return ShopPurchaseBase + int64(shop)*1000 + int64(slot) }

func WorldStateID(mapID, bit int) int64 { return WorldStateBase + int64(mapID)*10000 + int64(bit) }

func CollectedObjectID(mapID, bit int) int64 {
	return CollectedObjectBase + int64(mapID)*10000 + int64(bit)
}

func AreaRestoredID(mapID, bit int) int64 {
	return AreaRestoredBase + int64(mapID)*10000 + int64(bit)
}

func GlobalFlagID(bit int) int64 { return GlobalFlagBase + int64(bit) }

func GameProgressID(bit int) int64 { return GameProgressBase + int64(bit) }

// ContainerID encodes a container spawn. level is a 16-bit level id.
func ContainerID(level uint16, spawn int) int64 {
	return ContainerBase + int64(level)<<8 + int64(spawn)
}

// CategoryOf returns the category whose range contains id.
func CategoryOf(id int64) Category {
	switch {
	case id >= ContainerBase:
		return Container
	case id >= GameProgressBase:
		return GameProgress
	case id >= GlobalFlagBase:
		return GlobalFlag
	case id >= AreaRestoredBase:
		return AreaRestored
	case id >= CollectedObjectBase:
		return CollectedObject
	case id >= WorldStateBase:
		return WorldState
	case id >= ShopPurchaseBase:
		return ShopPurchase
	case id >= BrushAcquisitionBase:
		return BrushAcquisition
	case id >= ItemPickupBase:
		return ItemPickup
	default:
		return Unknown
	}
}
