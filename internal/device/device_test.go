package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierForRAMBoundaries(t *testing.T) {
	tests := []struct {
		ramGB float64
		want  Tier
	}{
		{2, TierMinimal},
		{3.9, TierMinimal},
		{4, TierBasic}, // exact boundary resolves upward
		{7.9, TierBasic},
		{8, TierStandard},
		{15.9, TierStandard},
		{16, TierPower},
		{31.9, TierPower},
		{32, TierServer},
		{128, TierServer},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tierForRAM(tt.ramGB), "ram=%.1f", tt.ramGB)
	}
}

func TestMinimalProfileDisablesLocal(t *testing.T) {
	p := profileFor(TierMinimal)
	assert.Empty(t, p.ClassifierModel)
	assert.Empty(t, p.RecommendedModels)
	assert.Zero(t, p.ConcurrentModels)
	assert.False(t, p.EmbeddingsLocal)
}

func TestProfilesOrderRecommendedModels(t *testing.T) {
	for _, tier := range []Tier{TierBasic, TierStandard, TierPower, TierServer} {
		p := profileFor(tier)
		require.NotEmpty(t, p.RecommendedModels, "tier %s", tier)
		assert.Equal(t, "qwen2.5:3b", p.ClassifierModel)
		assert.True(t, p.EmbeddingsLocal)
	}
	assert.Equal(t, 1, profileFor(TierBasic).ConcurrentModels)
	assert.Equal(t, 4, profileFor(TierServer).ConcurrentModels)
}

func TestParseMemTotalKB(t *testing.T) {
	meminfo := "MemTotal:       16384000 kB\nMemFree:         1024000 kB\n"
	kb, err := parseMemTotalKB(strings.NewReader(meminfo))
	require.NoError(t, err)
	assert.Equal(t, int64(16384000), kb)

	_, err = parseMemTotalKB(strings.NewReader("MemFree: 12 kB\n"))
	assert.Error(t, err)
}

func TestDetectHonorsTierOverride(t *testing.T) {
	t.Setenv(EnvTierOverride, "minimal")
	p := Detect(t.TempDir())
	assert.Equal(t, TierMinimal, p.Tier)

	t.Setenv(EnvTierOverride, "not-a-tier")
	p = Detect(t.TempDir())
	assert.Equal(t, tierForRAM(p.RAMGB), p.Tier, "invalid override falls back to detection")
}
