package pipeline

import (
	"testing"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

func TestPlanExamples(t *testing.T) {
	cases := []struct {
		name         string
		w, h         int
		strategy     domain.ResizeStrategy
		maxW, maxH   int
		wantW, wantH int
	}{
		{"max-width", 3000, 2000, domain.StrategyMaxWidth, 1500, 0, 1500, 1000},
		{"max-width no upscale", 1000, 500, domain.StrategyMaxWidth, 1500, 0, 1000, 500},
		{"max-height", 3000, 2000, domain.StrategyMaxHeight, 0, 1000, 1500, 1000},
		{"max-dimension landscape", 2000, 1000, domain.StrategyMaxDimension, 1000, 0, 1000, 500},
		{"max-dimension within cap", 800, 900, domain.StrategyMaxDimension, 1000, 0, 800, 900},
		{"max-dimension portrait", 800, 1600, domain.StrategyMaxDimension, 1000, 0, 500, 1000},
		{"max-dimension height cap", 2000, 1000, domain.StrategyMaxDimension, 0, 500, 500, 250},
		{"fit-inside", 4000, 2000, domain.StrategyFitInside, 1000, 1000, 1000, 500},
		{"fit-inside no upscale", 400, 200, domain.StrategyFitInside, 1000, 1000, 400, 200},
		{"fixed", 400, 200, domain.StrategyFixed, 300, 300, 300, 300},
		{"original", 4000, 2000, domain.StrategyOriginal, 10, 10, 4000, 2000},
		{"missing bound", 4000, 2000, domain.StrategyMaxWidth, 0, 0, 4000, 2000},
		{"fit-inside missing height", 4000, 2000, domain.StrategyFitInside, 1000, 0, 4000, 2000},
	}

	for _, tc := range cases {
		gotW, gotH := Plan(tc.w, tc.h, tc.strategy, tc.maxW, tc.maxH)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Fatalf("%s: expected (%d,%d), got (%d,%d)", tc.name, tc.wantW, tc.wantH, gotW, gotH)
		}
	}
}

func TestPlanNeverExceedsBounds(t *testing.T) {
	sizes := []int{1, 7, 99, 640, 1001, 4096}
	bounds := []int{1, 50, 640, 1000}
	strategies := []domain.ResizeStrategy{
		domain.StrategyMaxWidth,
		domain.StrategyMaxHeight,
		domain.StrategyMaxDimension,
		domain.StrategyFitInside,
	}

	for _, w := range sizes {
		for _, h := range sizes {
			for _, bound := range bounds {
				for _, strategy := range strategies {
					gotW, gotH := Plan(w, h, strategy, bound, bound)
					if gotW < 1 || gotH < 1 {
						t.Fatalf("%s %dx%d bound %d: degenerate result %dx%d", strategy, w, h, bound, gotW, gotH)
					}
					if gotW > w || gotH > h {
						t.Fatalf("%s %dx%d bound %d: upscaled to %dx%d", strategy, w, h, bound, gotW, gotH)
					}

					switch strategy {
					case domain.StrategyMaxWidth:
						if gotW > bound {
							t.Fatalf("%s %dx%d bound %d: width %d exceeds bound", strategy, w, h, bound, gotW)
						}
					case domain.StrategyMaxHeight:
						if gotH > bound {
							t.Fatalf("%s %dx%d bound %d: height %d exceeds bound", strategy, w, h, bound, gotH)
						}
					default:
						if gotW > bound || gotH > bound {
							t.Fatalf("%s %dx%d bound %d: %dx%d exceeds bound", strategy, w, h, bound, gotW, gotH)
						}
					}
				}
			}
		}
	}
}
