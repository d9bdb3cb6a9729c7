package rag

import "math"

// NormalizeScore 将通道分数压缩到 [0,1]。
// 大于 1 的原始分数（如图检索的实体匹配数）做对数压缩：min(1, log10(s+1))。
func NormalizeScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		return math.Min(1, math.Log10(s+1))
	}
	if s < 0 {
		return 0
	}
	return s
}

// NormalizeByMax 按最大值归一化一组分数，最大值不大于 0 时全部置 0
func NormalizeByMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore <= 0 {
		return out
	}
	for i, s := range scores {
		if s > 0 {
			out[i] = s / maxScore
		}
	}
	return out
}
