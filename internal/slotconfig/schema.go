package slotconfig

// schemaCUE declares the slot_data fields, their types and the values used
// when a field is missing or malformed. TotalLocations has no default: an
// absent value stays unset.
const schemaCUE = `
SeedNumber:               *"" | string
SeedName:                 *"" | string
TotalLocations:           int
supported_client_version: *"" | string

RandomizeContainers: *false | bool
RandomizeShops:      *false | bool
RandomizeBrushes:    *false | bool

BuriedChestsByNight:   *true | bool
KarmicTransformers:    *1 | int
OpenGameStart:         *true | bool
ProgressiveWeapons:    *false | bool
RemoveBlockHead:       *true | bool
BloomGuardianSaplings: *true | bool

RequiredDoggorbs: *1 | int
CanineRewards:    *1 | int
MoonCaveAccess:   *0 | int

ShopSlots: *6 | int
`
