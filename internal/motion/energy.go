package motion

// MotionDiffThreshold is the default absolute grayscale difference above
// which a pixel is considered moving.
const MotionDiffThreshold = 25

// MinActiveRegionArea is the minimum connected-component size (in
// pixels) counted as an active region. Components are found with a
// 4-connected flood fill over the thresholded diff mask.
const MinActiveRegionArea = 100

// EnergyResult is the frame-difference motion-energy summary.
type EnergyResult struct {
	MotionEnergy  float64
	ActiveRegions int
}

// EnergyTracker computes frame-difference motion energy across
// consecutive grayscale frames for one stream.
type EnergyTracker struct {
	prevGray      []byte
	width, height int
}

// NewEnergyTracker returns an empty tracker; the first frame produces a
// zero EnergyResult.
func NewEnergyTracker() *EnergyTracker {
	return &EnergyTracker{}
}

// Update computes motion_energy = moving_pixels/total_pixels and the
// count of connected moving regions with area > MinActiveRegionArea.
func (e *EnergyTracker) Update(gray []byte, width, height int) EnergyResult {
	if e.prevGray == nil || e.width != width || e.height != height {
		e.prevGray = append([]byte(nil), gray...)
		e.width, e.height = width, height
		return EnergyResult{}
	}

	moving := make([]bool, width*height)
	movingCount := 0
	for i := range gray {
		diff := int(gray[i]) - int(e.prevGray[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > MotionDiffThreshold {
			moving[i] = true
			movingCount++
		}
	}

	e.prevGray = append(e.prevGray[:0], gray...)

	total := width * height
	if total == 0 {
		return EnergyResult{}
	}

	return EnergyResult{
		MotionEnergy:  float64(movingCount) / float64(total),
		ActiveRegions: countActiveRegions(moving, width, height),
	}
}

// countActiveRegions runs a 4-connected flood fill over the moving-pixel
// mask and counts components whose area exceeds MinActiveRegionArea.
func countActiveRegions(moving []bool, width, height int) int {
	visited := make([]bool, len(moving))
	regions := 0

	stack := make([]int, 0, 256)
	for start := range moving {
		if !moving[start] || visited[start] {
			continue
		}
		area := 0
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++

			x, y := idx%width, idx/width
			neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
			for _, n := range neighbors {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				ni := ny*width + nx
				if !moving[ni] || visited[ni] {
					continue
				}
				visited[ni] = true
				stack = append(stack, ni)
			}
		}

		if area > MinActiveRegionArea {
			regions++
		}
	}

	return regions
}
