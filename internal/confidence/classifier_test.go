package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Thresholds(t *testing.T) {
	tests := []struct {
		score float64
		tier  Tier
	}{
		{1, TierHigh},
		{0.92, TierHigh},
		{0.85, TierHigh},
		{0.8499, TierMedium},
		{0.5, TierMedium},
		{0.4999, TierLow},
		{0, TierLow},
		{-0.3, TierLow},
		{1.7, TierHigh},
		{math.NaN(), TierLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.tier, Classify(tt.score).Tier, "score %v", tt.score)
	}
}

func TestClassify_Monotone(t *testing.T) {
	prev := Default.Tier(-1).Rank()
	for i := 0; i <= 10000; i++ {
		score := float64(i) / 10000
		rank := Default.Tier(score).Rank()
		require.GreaterOrEqual(t, rank, prev, "score %v lowered the tier", score)
		prev = rank
	}
}

func TestClassify_Presentation(t *testing.T) {
	c := Classify(0.6)
	assert.Equal(t, TierMedium, c.Tier)
	assert.Equal(t, "Needs review", c.Label)
	assert.Equal(t, "#d97706", c.Color)
	assert.InDelta(t, 0.6, c.Score, 1e-9)
}

func TestAutoApprovable(t *testing.T) {
	assert.True(t, Default.AutoApprovable(0.9))
	assert.False(t, Default.AutoApprovable(0.7))
	assert.False(t, Default.AutoApprovable(0.1))
}

func TestNewClassifier(t *testing.T) {
	c, err := NewClassifier(0.9, 0.6)
	require.NoError(t, err)
	assert.Equal(t, TierMedium, c.Tier(0.85))

	_, err = NewClassifier(0.5, 0.6)
	assert.Error(t, err)
	_, err = NewClassifier(1.2, 0.6)
	assert.Error(t, err)
	_, err = NewClassifier(0.8, 0)
	assert.Error(t, err)
}
