package tiles

import (
	"fmt"
	"math"
	"slices"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

// Quality preset names.
const (
	QualityFast        = "fast"
	QualityBalanced    = "balanced"
	QualityHighQuality = "high_quality"
)

// Degradation bounds. A profile never degrades past these.
const (
	MaxDropRate       = 10.0
	MaxSimplification = 10.0
	MinBuffer         = 8
	MinDetail         = 7

	degradeFactor = 1.5
)

// Profile holds the compiler parameters that trade output fidelity for
// memory and size. A Profile is a value: Degrade returns a new one and never
// changes the receiver, so every attempt's profile stays inspectable.
type Profile struct {
	Name           string  `json:"name" toml:"name"`
	Buffer         int     `json:"buffer" toml:"buffer"`
	Simplification float64 `json:"simplification" toml:"simplification"`
	DropRate       float64 `json:"drop_rate" toml:"drop_rate"`
	Detail         int     `json:"detail" toml:"detail"`
	// Level counts the degradation steps applied to the named preset.
	Level int `json:"level" toml:"-"`
}

var presets = map[string]Profile{
	QualityFast:        {Name: QualityFast, Buffer: 32, Simplification: 2.0, DropRate: 4.0, Detail: 11},
	QualityBalanced:    {Name: QualityBalanced, Buffer: 64, Simplification: 1.0, DropRate: 2.5, Detail: 12},
	QualityHighQuality: {Name: QualityHighQuality, Buffer: 128, Simplification: 0.5, DropRate: 1.5, Detail: 14},
}

// Preset returns the named quality preset.
func Preset(name string) (Profile, error) {
	p, ok := presets[name]
	if !ok {
		return Profile{}, errors.New(errors.ErrCodeInvalidInput,
			"unknown quality profile %q (valid: %v)", name, PresetNames())
	}
	return p, nil
}

// PresetNames lists the quality presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks that the profile is usable by the compiler.
func (p Profile) Validate() error {
	switch {
	case p.Buffer < 0 || p.Buffer > 127*4:
		return errors.New(errors.ErrCodeInvalidInput, "buffer %d out of range", p.Buffer)
	case p.Simplification <= 0:
		return errors.New(errors.ErrCodeInvalidInput, "simplification must be positive, got %v", p.Simplification)
	case p.DropRate <= 0:
		return errors.New(errors.ErrCodeInvalidInput, "drop rate must be positive, got %v", p.DropRate)
	case p.Detail < 1 || p.Detail > 30:
		return errors.New(errors.ErrCodeInvalidInput, "detail %d out of range", p.Detail)
	}
	return nil
}

// Degrade returns the next weaker profile: more aggressive feature dropping,
// a smaller buffer, coarser simplification and lower detail, each clamped to
// its bound. A degraded profile always keeps the tile size limit.
func (p Profile) Degrade() Profile {
	next := p
	next.DropRate = round(math.Min(p.DropRate*degradeFactor, math.Max(MaxDropRate, p.DropRate)))
	next.Buffer = max(p.Buffer/2, min(MinBuffer, p.Buffer))
	next.Simplification = round(math.Min(p.Simplification*degradeFactor, math.Max(MaxSimplification, p.Simplification)))
	next.Detail = max(p.Detail-1, min(MinDetail, p.Detail))
	next.Level = p.Level + 1
	return next
}

// NoSizeLimit reports whether tiles may exceed the compiler's default size
// cap. Only the undegraded high quality preset lifts it.
func (p Profile) NoSizeLimit() bool {
	return p.Name == QualityHighQuality && p.Level == 0
}

// round trims float noise so that degraded profiles fingerprint stably.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// NoWeakerThan reports whether p keeps at least the fidelity of o in every
// parameter.
func (p Profile) NoWeakerThan(o Profile) bool {
	return (p.NoSizeLimit() || !o.NoSizeLimit()) &&
		p.DropRate <= o.DropRate &&
		p.Buffer >= o.Buffer &&
		p.Simplification <= o.Simplification &&
		p.Detail >= o.Detail
}

// WeakerThan reports whether p is strictly weaker than o: no parameter is
// better and at least one is worse.
func (p Profile) WeakerThan(o Profile) bool {
	return o.NoWeakerThan(p) && !p.NoWeakerThan(o)
}

func (p Profile) String() string {
	name := p.Name
	if name == "" {
		name = "custom"
	}
	if p.Level > 0 {
		name = fmt.Sprintf("%s-%d", name, p.Level)
	}
	return fmt.Sprintf("%s(buffer=%d simplification=%g drop_rate=%g detail=%d)",
		name, p.Buffer, p.Simplification, p.DropRate, p.Detail)
}

// fingerprint is the part of the profile that determines output.
type fingerprint struct {
	Buffer         int     `json:"buffer"`
	Simplification float64 `json:"simplification"`
	DropRate       float64 `json:"drop_rate"`
	Detail         int     `json:"detail"`
	NoSizeLimit    bool    `json:"no_size_limit"`
}

func (p Profile) fingerprint() fingerprint {
	return fingerprint{
		Buffer:         p.Buffer,
		Simplification: p.Simplification,
		DropRate:       p.DropRate,
		Detail:         p.Detail,
		NoSizeLimit:    p.NoSizeLimit(),
	}
}
