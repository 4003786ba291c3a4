package codec

import "fmt"

const (
	// G711SampleRate is the PCMU sampling and RTP clock rate.
	G711SampleRate = 8000

	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLaw compresses 16-bit linear samples to µ-law.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMuLaw(s)
	}
	return out
}

// DecodeMuLaw expands µ-law bytes to 16-bit linear samples.
func DecodeMuLaw(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, u := range b {
		out[i] = muLawToLinear(u)
	}
	return out
}

func linearToMuLaw(s int16) byte {
	sample := int(s)
	sign := 0
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	exponent := 7
	for mask := 0x4000; sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0f
	return ^byte(sign | exponent<<4 | mantissa)
}

func muLawToLinear(u byte) int16 {
	u = ^u
	exponent := int(u>>4) & 0x07
	mantissa := int(u & 0x0f)
	sample := ((mantissa << 3) + muLawBias) << exponent
	sample -= muLawBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// ToNarrowband mixes interleaved PCM down to mono and decimates it to 8 kHz. The input
// rate must be a positive multiple of 8000.
func ToNarrowband(samples []int16, sampleRate, channels int) ([]int16, error) {
	if channels <= 0 || sampleRate <= 0 || sampleRate%G711SampleRate != 0 {
		return nil, fmt.Errorf("cannot convert %d Hz, %d channels to 8 kHz mono", sampleRate, channels)
	}
	step := sampleRate / G711SampleRate
	frames := len(samples) / channels

	out := make([]int16, 0, frames/step)
	for i := 0; i+step <= frames; i += step {
		var sum int
		for j := i; j < i+step; j++ {
			for ch := 0; ch < channels; ch++ {
				sum += int(samples[j*channels+ch])
			}
		}
		out = append(out, int16(sum/(step*channels)))
	}
	return out, nil
}
