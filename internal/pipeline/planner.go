package pipeline

import (
	"math"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

// Plan derives target dimensions from the original dimensions and a resize
// strategy. Strategies whose bounds are missing pass the original through.
func Plan(origW, origH int, strategy domain.ResizeStrategy, maxW, maxH int) (int, int) {
	if origW <= 0 || origH <= 0 {
		return origW, origH
	}
	aspect := float64(origW) / float64(origH)

	switch strategy {
	case domain.StrategyMaxWidth:
		if maxW > 0 && origW > maxW {
			return maxW, roundSide(float64(maxW) / aspect)
		}
	case domain.StrategyMaxHeight:
		if maxH > 0 && origH > maxH {
			return roundSide(float64(maxH) * aspect), maxH
		}
	case domain.StrategyMaxDimension:
		limit := maxW
		if limit <= 0 {
			limit = maxH
		}
		return FitLongestSide(origW, origH, limit)
	case domain.StrategyFitInside:
		if maxW > 0 && maxH > 0 {
			scale := math.Min(math.Min(float64(maxW)/float64(origW), float64(maxH)/float64(origH)), 1)
			if scale < 1 {
				return roundSide(float64(origW) * scale), roundSide(float64(origH) * scale)
			}
		}
	case domain.StrategyFixed:
		if maxW > 0 && maxH > 0 {
			return maxW, maxH
		}
	}
	return origW, origH
}

// FitLongestSide scales (w, h) down so that neither side exceeds limit.
func FitLongestSide(w, h, limit int) (int, int) {
	if limit <= 0 || w <= 0 || h <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	aspect := float64(w) / float64(h)
	if w >= h {
		return limit, roundSide(float64(limit) / aspect)
	}
	return roundSide(float64(limit) * aspect), limit
}

func roundSide(v float64) int {
	return max(1, int(math.Round(v)))
}
