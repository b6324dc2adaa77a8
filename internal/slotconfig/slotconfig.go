// Package slotconfig resolves the slot_data object sent with Connected into
// an immutable Config.
//
// Resolution never fails hard: a malformed field keeps its default and logs a
// warning, and a payload that is not an object yields Defaults together with
// an error for the caller to log.
package slotconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

// ErrNotObject is returned when slot_data is neither null nor an object.
var ErrNotObject = errors.New("slot_data is not an object")

// Karmic transformer placement.
const (
	KarmicExcluded     = 0
	KarmicPrecollected = 1
	KarmicInItemPool   = 2
)

// Moon cave access requirement.
const (
	MoonCaveSerpentCrystal = 0
	MoonCaveCrimsonHelm    = 1
	MoonCaveOpen           = 2
)

// Config is the feature configuration for one connection. It is not mutated
// after Resolve returns; a reconnect produces a new Config.
type Config struct {
	SeedNumber             string
	SeedName               string
	TotalLocations         *int
	SupportedClientVersion string

	RandomizeContainers bool
	RandomizeShops      bool
	RandomizeBrushes    bool

	BuriedChestsByNight   bool
	KarmicTransformers    int
	OpenGameStart         bool
	ProgressiveWeapons    bool
	RemoveBlockHead       bool
	BloomGuardianSaplings bool

	RequiredDoggorbs int
	CanineRewards    int
	MoonCaveAccess   int

	ShopSlots int
}

// Defaults is the configuration used when slot_data is absent or unusable.
// It is deliberately more conservative than the per-field defaults.
func Defaults() *Config {
	return &Config{
		BuriedChestsByNight: true,
		RequiredDoggorbs:    1,
		CanineRewards:       1,
		ShopSlots:           6,
	}
}

type options struct {
	logger *slog.Logger
}

// Option configures Resolve.
type Option func(*options)

// WithLogger sets the logger for field warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type field struct {
	name   string
	assign func(c *Config, v cue.Value) error
}

func boolField(name string, dst func(*Config) *bool) field {
	return field{name, func(c *Config, v cue.Value) error {
		b, err := v.Bool()
		if err == nil {
			*dst(c) = b
		}
		return err
	}}
}

func intField(name string, dst func(*Config) *int) field {
	return field{name, func(c *Config, v cue.Value) error {
		n, err := v.Int64()
		if err == nil {
			*dst(c) = int(n)
		}
		return err
	}}
}

func stringField(name string, dst func(*Config) *string) field {
	return field{name, func(c *Config, v cue.Value) error {
		s, err := v.String()
		if err == nil {
			*dst(c) = s
		}
		return err
	}}
}

var fields = []field{
	stringField("SeedNumber", func(c *Config) *string { return &c.SeedNumber }),
	stringField("SeedName", func(c *Config) *string { return &c.SeedName }),
	{"TotalLocations", func(c *Config, v cue.Value) error {
		n, err := v.Int64()
		if err == nil {
			total := int(n)
			c.TotalLocations = &total
		}
		return err
	}},
	stringField("supported_client_version", func(c *Config) *string { return &c.SupportedClientVersion }),
	boolField("RandomizeContainers", func(c *Config) *bool { return &c.RandomizeContainers }),
	boolField("RandomizeShops", func(c *Config) *bool { return &c.RandomizeShops }),
	boolField("RandomizeBrushes", func(c *Config) *bool { return &c.RandomizeBrushes }),
	boolField("BuriedChestsByNight", func(c *Config) *bool { return &c.BuriedChestsByNight }),
	intField("KarmicTransformers", func(c *Config) *int { return &c.KarmicTransformers }),
	boolField("OpenGameStart", func(c *Config) *bool { return &c.OpenGameStart }),
	boolField("ProgressiveWeapons", func(c *Config) *bool { return &c.ProgressiveWeapons }),
	boolField("RemoveBlockHead", func(c *Config) *bool { return &c.RemoveBlockHead }),
	boolField("BloomGuardianSaplings", func(c *Config) *bool { return &c.BloomGuardianSaplings }),
	intField("RequiredDoggorbs", func(c *Config) *int { return &c.RequiredDoggorbs }),
	intField("CanineRewards", func(c *Config) *int { return &c.CanineRewards }),
	intField("MoonCaveAccess", func(c *Config) *int { return &c.MoonCaveAccess }),
	intField("ShopSlots", func(c *Config) *int { return &c.ShopSlots }),
}

// Resolve parses slot_data. The returned Config is never nil.
func Resolve(raw json.RawMessage, opts ...Option) (*Config, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "slotconfig")

	if len(raw) == 0 {
		logger.Debug("slot_data missing, using defaults")
		return Defaults(), nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return Defaults(), fmt.Errorf("compile slot_data schema: %w", err)
	}

	expr, err := cuejson.Extract("slot_data", raw)
	if err != nil {
		return Defaults(), fmt.Errorf("parse slot_data: %w", err)
	}
	data := ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return Defaults(), fmt.Errorf("parse slot_data: %w", err)
	}

	switch data.Kind() {
	case cue.NullKind:
		logger.Debug("slot_data is null, using defaults")
		return Defaults(), nil
	case cue.StructKind:
	default:
		return Defaults(), ErrNotObject
	}

	cfg := &Config{}
	for _, f := range fields {
		path := cue.ParsePath(f.name)
		want := schema.LookupPath(path)
		got := data.LookupPath(path)

		if got.Exists() {
			v := want.Unify(coerce(ctx, want.IncompleteKind(), got))
			if err := v.Validate(cue.Concrete(true)); err == nil {
				if err := f.assign(cfg, v); err == nil {
					continue
				}
			}
			logger.Warn("slot_data field has unexpected type, using default", "field", f.name, "kind", got.Kind().String())
		}

		def, ok := want.Default()
		if !ok || def.Validate(cue.Concrete(true)) != nil {
			continue
		}
		if err := f.assign(cfg, def); err != nil {
			return Defaults(), fmt.Errorf("slot_data default for %s: %w", f.name, err)
		}
	}
	return cfg, nil
}

// coerce applies the lenient conversions slot_data producers rely on:
// integers stand in for booleans, and numbers for strings.
func coerce(ctx *cue.Context, want cue.Kind, v cue.Value) cue.Value {
	switch {
	case want&cue.BoolKind != 0 && v.Kind() == cue.IntKind:
		if n, err := v.Int64(); err == nil {
			return ctx.Encode(n != 0)
		}
	case want&cue.StringKind != 0 && v.Kind() == cue.IntKind:
		if n, err := v.Int64(); err == nil {
			return ctx.Encode(strconv.FormatInt(n, 10))
		}
	case want&cue.StringKind != 0 && v.Kind() == cue.FloatKind:
		if f, err := v.Float64(); err == nil {
			return ctx.Encode(strconv.FormatInt(int64(f), 10))
		}
	}
	return v
}
