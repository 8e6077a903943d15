package http

import "time"

// chunkTargetDuration is the per-chunk transfer time the sizer steers
// toward when adapting to observed throughput.
const chunkTargetDuration = 30 * time.Second

// NextChunkSize picks the size of the next ranged request when a download
// or upload is split into parts. It adapts to the previous chunk's observed
// duration, clamps to [minSize, maxSize], rounds to a multiple of mul, and
// grows the chunk as needed so a transfer never exceeds maxParts parts
// (part is the number of chunks already issued). The result never exceeds
// remaining; the final short chunk is the one place the mul rounding is
// waived.
func NextChunkSize(remaining, lastSize int64, lastDuration time.Duration, minSize, mul, part int64, maxParts, maxSize int64) int64 {
	if remaining <= 0 {
		return 0
	}
	size := lastSize
	if size <= 0 {
		size = minSize
	}
	if lastDuration > 0 && size > 0 {
		scaled := int64(float64(size) * float64(chunkTargetDuration) / float64(lastDuration))
		switch {
		case scaled > size*4:
			size *= 4
		case scaled < size/4:
			size /= 4
		default:
			size = scaled
		}
	}
	if size < minSize {
		size = minSize
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	if mul > 0 {
		size -= size % mul
		if size < mul {
			size = mul
		}
	}
	if maxParts > 0 {
		left := maxParts - part
		if left < 1 {
			left = 1
		}
		need := (remaining + left - 1) / left
		if mul > 0 && need%mul != 0 {
			need += mul - need%mul
		}
		if size < need {
			size = need
		}
	}
	if size > remaining {
		size = remaining
	}
	return size
}
