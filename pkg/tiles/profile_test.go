package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

func TestPreset(t *testing.T) {
	p, err := Preset(QualityBalanced)
	require.NoError(t, err)
	assert.Equal(t, Profile{Name: QualityBalanced, Buffer: 64, Simplification: 1.0, DropRate: 2.5, Detail: 12}, p)

	_, err = Preset("ultra")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	assert.Equal(t, []string{QualityBalanced, QualityFast, QualityHighQuality}, PresetNames())
	for _, name := range PresetNames() {
		p, err := Preset(name)
		require.NoError(t, err)
		assert.NoError(t, p.Validate(), name)
	}
}

func TestPresetsAreOrdered(t *testing.T) {
	fast, _ := Preset(QualityFast)
	balanced, _ := Preset(QualityBalanced)
	high, _ := Preset(QualityHighQuality)

	assert.True(t, fast.WeakerThan(balanced))
	assert.True(t, balanced.WeakerThan(high))
	assert.False(t, high.WeakerThan(fast))
}

func TestProfileDegrade(t *testing.T) {
	p, _ := Preset(QualityBalanced)
	next := p.Degrade()

	assert.Equal(t, Profile{Name: QualityBalanced, Buffer: 32, Simplification: 1.5, DropRate: 3.75, Detail: 11, Level: 1}, next)
	assert.Equal(t, 0, p.Level, "receiver unchanged")
	assert.True(t, next.WeakerThan(p))
	assert.True(t, p.NoWeakerThan(next))
}

func TestProfileDegradeRestoresSizeLimit(t *testing.T) {
	high, _ := Preset(QualityHighQuality)
	require.True(t, high.NoSizeLimit())

	next := high
	for range 3 {
		next = next.Degrade()
		assert.False(t, next.NoSizeLimit(), "%s keeps the size limit lifted", next)
		assert.False(t, next.fingerprint().NoSizeLimit)
	}
	assert.True(t, high.Degrade().WeakerThan(high))
	assert.False(t, high.Degrade().NoWeakerThan(high))
}

func TestProfileDegradeBounded(t *testing.T) {
	p, _ := Preset(QualityBalanced)
	prev := p
	for range 20 {
		next := prev.Degrade()
		assert.True(t, prev.NoWeakerThan(next), "degradation must be monotonic: %s -> %s", prev, next)
		prev = next
	}

	assert.Equal(t, MaxDropRate, prev.DropRate)
	assert.Equal(t, MaxSimplification, prev.Simplification)
	assert.Equal(t, MinBuffer, prev.Buffer)
	assert.Equal(t, MinDetail, prev.Detail)
	assert.Equal(t, 20, prev.Level)

	floor := prev.Degrade()
	assert.False(t, floor.WeakerThan(prev), "nothing left to degrade")
	assert.NoError(t, floor.Validate())
}

func TestProfileDegradeBeyondBounds(t *testing.T) {
	// A custom profile already past a bound keeps its value.
	p := Profile{Buffer: 4, Simplification: 12, DropRate: 15, Detail: 5}
	next := p.Degrade()
	assert.Equal(t, 4, next.Buffer)
	assert.Equal(t, 12.0, next.Simplification)
	assert.Equal(t, 15.0, next.DropRate)
	assert.Equal(t, 5, next.Detail)
}

func TestProfileValidate(t *testing.T) {
	base, _ := Preset(QualityFast)
	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"negative buffer", func(p *Profile) { p.Buffer = -1 }},
		{"zero simplification", func(p *Profile) { p.Simplification = 0 }},
		{"zero drop rate", func(p *Profile) { p.DropRate = 0 }},
		{"zero detail", func(p *Profile) { p.Detail = 0 }},
		{"huge detail", func(p *Profile) { p.Detail = 31 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			assert.True(t, errors.Is(p.Validate(), errors.ErrCodeInvalidInput))
		})
	}
}

func TestProfileString(t *testing.T) {
	p, _ := Preset(QualityFast)
	assert.Equal(t, "fast(buffer=32 simplification=2 drop_rate=4 detail=11)", p.String())
	assert.Contains(t, p.Degrade().String(), "fast-1(")
	assert.Contains(t, Profile{Buffer: 1, Simplification: 1, DropRate: 1, Detail: 1}.String(), "custom(")
}

func TestProfileFingerprintIgnoresLevel(t *testing.T) {
	p, _ := Preset(QualityFast)
	q := p
	q.Level = 3
	assert.Equal(t, p.fingerprint(), q.fingerprint())

	high, _ := Preset(QualityHighQuality)
	assert.True(t, high.fingerprint().NoSizeLimit)
	assert.False(t, p.fingerprint().NoSizeLimit)
}
