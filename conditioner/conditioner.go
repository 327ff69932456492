package conditioner

import (
	"encoding/binary"
	"math"
)

// Downmix averages interleaved frames into one channel. Mono input is returned as is.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 || len(samples) == 0 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += int32(samples[base+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// OutputLen is ceil(n*rateOut/rateIn).
func OutputLen(n, rateIn, rateOut int) int {
	if n == 0 || rateIn <= 0 || rateOut <= 0 {
		return n
	}
	num := int64(n) * int64(rateOut)
	return int((num + int64(rateIn) - 1) / int64(rateIn))
}

// Resample converts between rates with linear interpolation. No anti-aliasing
// filter is applied; large downsampling ratios alias.
func Resample(samples []int16, rateIn, rateOut int) []int16 {
	if rateIn == rateOut || len(samples) == 0 || rateIn <= 0 || rateOut <= 0 {
		return samples
	}
	n := len(samples)
	nOut := OutputLen(n, rateIn, rateOut)
	out := make([]int16, nOut)
	last := n - 1
	for j := range out {
		// position j/nOut on the output axis mapped onto the input axis i/n
		pos := float64(j) * float64(n) / float64(nOut)
		idx := int(pos)
		if idx >= last {
			out[j] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[j] = clip(v)
	}
	return out
}

// Condition downmixes then resamples to the canonical rate.
func Condition(samples []int16, channels, rateIn, rateOut int) []int16 {
	return Resample(Downmix(samples, channels), rateIn, rateOut)
}

func clip(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root mean square of the samples normalized to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
