package rewards

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog maps item ids to rewards.
type Catalog struct {
	byID map[int64]Reward
}

type catalogFile struct {
	Items []catalogEntry `yaml:"items"`
}

type catalogEntry struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Brush    int      `yaml:"brush"`
	Upgrades []uint32 `yaml:"upgrades"`
	Flags    []Flag   `yaml:"flags"`
	Stages   []uint8  `yaml:"stages"`
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
})

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return defaultCatalog()
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{byID: make(map[int64]Reward, len(f.Items))}
	for _, e := range f.Items {
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate id 0x%X", e.ID)
		}
		kind, err := e.kind()
		if err != nil {
			return nil, fmt.Errorf("parse catalog: id 0x%X: %w", e.ID, err)
		}
		c.byID[e.ID] = Reward{ID: e.ID, Name: e.Name, Kind: kind}
	}
	return c, nil
}

func (e catalogEntry) kind() (Kind, error) {
	switch e.Kind {
	case "inventory":
		if e.ID < 0 || e.ID > GameItemMax {
			return nil, fmt.Errorf("inventory id out of range")
		}
		return GameItem{Item: uint8(e.ID)}, nil
	case "brush":
		return Brush{Index: e.Brush}, nil
	case "progressive_brush":
		return ProgressiveBrush{Index: e.Brush, Upgrades: e.Upgrades}, nil
	case "event_flags":
		if len(e.Flags) == 0 {
			return nil, fmt.Errorf("event_flags without flags")
		}
		return EventFlags{Flags: e.Flags}, nil
	case "progressive_weapon":
		if len(e.Stages) == 0 {
			return nil, fmt.Errorf("progressive_weapon without stages")
		}
		return ProgressiveWeapon{Stages: e.Stages}, nil
	case "filler":
		return Filler{Message: e.Name}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", e.Kind)
	}
}

// Resolve returns the reward for id. Ids inside a known range but missing
// from the catalog resolve to Filler; ids outside every range are an
// unknown category error.
func (c *Catalog) Resolve(id int64) (Reward, error) {
	if CategoryOf(id) == CategoryUnknown {
		return Reward{}, &Error{Code: ErrCodeUnknownCategory, ItemID: id, Message: "no reward category for item id"}
	}
	if r, ok := c.byID[id]; ok {
		return r, nil
	}
	return Reward{ID: id, Name: fmt.Sprintf("Item 0x%X", id), Kind: Filler{Message: "uncatalogued item"}}, nil
}

// Name returns the display name for id, or a hex placeholder.
func (c *Catalog) Name(id int64) string {
	if r, ok := c.byID[id]; ok {
		return r.Name
	}
	return fmt.Sprintf("Item 0x%X", id)
}

// Len returns the number of catalogued items.
func (c *Catalog) Len() int { return len(c.byID) }

// Rewards returns every catalogued reward ordered by id.
func (c *Catalog) Rewards() []Reward {
	out := make([]Reward, 0, len(c.byID))
	for _, r := range c.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
