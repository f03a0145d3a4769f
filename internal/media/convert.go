package media

// DownmixMono averages all channels of an interleaved PCM16 clip into a mono
// clip. Uses int32 arithmetic to prevent overflow and clamps to int16 range.
// A mono input is returned unchanged.
func DownmixMono(c *Clip) *Clip {
	if c.Channels <= 1 {
		return c
	}
	frames := c.Frames()
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range c.Channels {
			sum += int32(c.Samples[i*c.Channels+ch])
		}
		avg := sum / int32(c.Channels)
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i] = int16(avg)
	}
	return &Clip{SampleRate: c.SampleRate, Channels: 1, Samples: out}
}

// Resample converts a mono PCM16 clip to dstRate using linear interpolation.
// If the clip is already at dstRate it is returned unchanged. Multi-channel
// clips must be downmixed first.
func Resample(c *Clip, dstRate int) *Clip {
	if c.SampleRate == dstRate || dstRate <= 0 || c.SampleRate <= 0 {
		return c
	}
	srcSamples := len(c.Samples)
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(c.SampleRate))
	if dstSamples == 0 {
		return &Clip{SampleRate: dstRate, Channels: c.Channels}
	}

	out := make([]int16, dstSamples)
	ratio := float64(c.SampleRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := c.Samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = c.Samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return &Clip{SampleRate: dstRate, Channels: c.Channels, Samples: out}
}
