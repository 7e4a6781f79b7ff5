package resolver

import "math"

// Ratio returns the normalized similarity of a and b in [0, 1]: twice the
// longest common subsequence over the combined length, rounded to two
// decimals. Empty input scores 0.
func Ratio(a, b string) float64 {
	return round2(rawRatio([]rune(a), []rune(b)))
}

// PartialRatio scores the shorter string against every equally long window
// of the longer one and returns the best window's Ratio.
func PartialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	if len(short) == len(long) {
		return round2(rawRatio(short, long))
	}

	best := 0.0
	for start := 0; start+len(short) <= len(long); start++ {
		r := rawRatio(short, long[start:start+len(short)])
		if r > best {
			best = r
			if best >= 0.995 {
				break
			}
		}
	}
	return round2(best)
}

func rawRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return 2 * float64(lcsLength(a, b)) / float64(total)
}

// lcsLength computes the longest common subsequence with a rolling row.
func lcsLength(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
