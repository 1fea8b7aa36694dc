package audio

import "math"

// Smoothstep returns the smoothstep interpolation for t in [0,1].
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// DBToLinear converts a gain in decibels to an amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts an amplitude factor to decibels. Silence maps to -Inf.
func LinearToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// ClampGain bounds gain to [min, max].
func ClampGain(gain, min, max float64) float64 {
	if gain < min {
		return min
	}
	if gain > max {
		return max
	}
	return gain
}

// RampFrame scales samples in place, moving from gain factor `from` to `to`
// along a smoothstep curve across the frame. Equal factors scale uniformly.
func RampFrame(samples []int16, from, to float64) {
	n := len(samples)
	for i := range samples {
		g := to
		if from != to && n > 1 {
			g = from + (to-from)*Smoothstep(float64(i)/float64(n-1))
		}
		v := float64(samples[i]) * g

		// Clip to int16 range
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}
