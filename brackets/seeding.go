package brackets

import "math"

// nextPowerOfTwo rounds the participant count up to the bracket size, so 5
// entrants get an 8-slot bracket.
func nextPowerOfTwo(count int) int {
	if count <= 1 {
		return count
	}
	return 1 << uint(math.Ceil(math.Log2(float64(count))))
}

func log2(size int) int {
	n := 0
	for s := size; s > 1; s >>= 1 {
		n++
	}
	return n
}

// seedPositions returns the 0-based seed occupying each bracket position,
// built by the standard doubling expansion: [0] -> [0,1] -> [0,3,1,2] -> ...
// Adjacent pairs form round 1, so position order realizes "1 vs N, 2 vs
// N-1" with the top seeds kept apart until the final. Positions holding a
// seed >= the participant count are byes.
func seedPositions(size int) []int {
	positions := []int{0}
	for len(positions) < size {
		doubled := len(positions) * 2
		next := make([]int, 0, doubled)
		for _, seed := range positions {
			next = append(next, seed)
			next = append(next, (doubled-1)-seed)
		}
		positions = next
	}
	return positions
}
