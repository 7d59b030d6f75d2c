package graph

import "math"

// CalculateETX estimates the expected transmission count of a link from the signal
// quality of a received packet. The result is always >= 1.
func CalculateETX(rssi int32, snr float32) float64 {
	var p float64
	switch {
	case rssi < -100:
		p = 0.1
	case rssi < -80:
		p = 0.5
	case rssi < -60:
		p = 0.8
	default:
		p = 0.95
	}
	if snr < 5 {
		p *= 0.5
	} else if snr < 10 {
		p *= 0.8
	}
	if p <= 0 {
		return math.Inf(1)
	}
	return 1 / p
}

// ETXToSignal maps a stored cost back to plausible signal values for advertisement.
// It is not an exact inverse of CalculateETX.
func ETXToSignal(etx float64) (rssi int32, snr int32) {
	switch {
	case etx <= 1:
		return -60, 10
	case etx <= 2:
		t := etx - 1
		return -60 - int32(t*30), 10 - int32(t*10)
	default:
		t := math.Min((etx-2)/2, 1)
		return -90 - int32(t*20), -int32(t * 5)
	}
}

// significant reports whether moving from old to etx is a topology change worth announcing
func significant(old, etx, threshold float64) bool {
	if old <= 0 || math.IsInf(old, 1) {
		return old != etx
	}
	return math.Abs(etx-old)/old >= threshold
}
