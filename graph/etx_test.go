package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateETX_NeverBelowOne(t *testing.T) {
	for rssi := int32(-140); rssi <= 0; rssi += 5 {
		for snr := float32(-20); snr <= 20; snr += 2.5 {
			etx := CalculateETX(rssi, snr)
			if etx < 1 || math.IsInf(etx, 1) {
				t.Errorf("etx(%d, %.1f) = %f", rssi, snr, etx)
			}
		}
	}
}

func TestCalculateETX_Buckets(t *testing.T) {
	assert.InDelta(t, 1/0.95, CalculateETX(-50, 12), 1e-9)
	assert.InDelta(t, 1/(0.8*0.8), CalculateETX(-70, 7), 1e-9)
	assert.InDelta(t, 1/(0.5*0.5), CalculateETX(-90, 1), 1e-9)
	assert.InDelta(t, 1/(0.1*0.5), CalculateETX(-120, -10), 1e-9)
	// worse signal never yields a cheaper link
	assert.Greater(t, CalculateETX(-101, 12), CalculateETX(-99, 12))
}

func TestETXToSignal(t *testing.T) {
	rssi, snr := ETXToSignal(1)
	assert.Equal(t, int32(-60), rssi)
	assert.Equal(t, int32(10), snr)

	rssi, snr = ETXToSignal(1.5)
	assert.Equal(t, int32(-75), rssi)
	assert.Equal(t, int32(5), snr)

	rssi, snr = ETXToSignal(50)
	assert.Equal(t, int32(-110), rssi)
	assert.Equal(t, int32(-5), snr)

	prev, _ := ETXToSignal(1)
	for etx := 1.1; etx < 5; etx += 0.1 {
		cur, _ := ETXToSignal(etx)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestSignificant(t *testing.T) {
	assert.False(t, significant(2, 2.3, 0.2))
	assert.True(t, significant(2, 2.5, 0.2))
	assert.True(t, significant(2, 1.5, 0.2))
	assert.True(t, significant(math.Inf(1), 3, 0.2))
	assert.False(t, significant(math.Inf(1), math.Inf(1), 0.2))
}
