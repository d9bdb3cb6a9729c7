package rag

import "sort"

// DedupPrefixLen 去重时比较的文本前缀长度（字符数）
const DedupPrefixLen = 200

// DefaultRRFK RRF 平滑常数
const DefaultRRFK = 60

// DedupKey 返回文本前 200 个字符，作为近似重复判定键
func DedupKey(text string) string {
	runes := []rune(text)
	if len(runes) > DedupPrefixLen {
		runes = runes[:DedupPrefixLen]
	}
	return string(runes)
}

// Dedup 按文本前 200 个字符去重，保留首次出现的条目。
// 共享相同开头的不同文档会被合并，仅格式不同的重复内容不会被合并。
func Dedup(in []RetrievedContext) []RetrievedContext {
	seen := make(map[string]struct{}, len(in))
	out := make([]RetrievedContext, 0, len(in))
	for _, c := range in {
		key := DedupKey(c.Text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// RankedList 一个通道的有序结果及其融合权重
type RankedList struct {
	Channel  Channel
	Weight   float64
	Contexts []RetrievedContext
}

type fusedEntry struct {
	ctx       RetrievedContext
	score     float64
	best      float64
	channels  []string
	firstSeen int
}

func fusionKey(c RetrievedContext) string {
	if c.ID != "" {
		return "id:" + c.ID
	}
	return "text:" + DedupKey(c.Text)
}

// FuseRRF 加权倒数排名融合：score(d) = Σ w_c / (k + rank_c(d))。
// 同一文档出现在多个通道时合并，通道标记取贡献最大的通道；
// 结果按融合分数降序，分数按最大值归一化到 [0,1]。
func FuseRRF(lists []RankedList, k int) []RetrievedContext {
	if k <= 0 {
		k = DefaultRRFK
	}

	entries := make(map[string]*fusedEntry)
	order := 0
	for _, list := range lists {
		if list.Weight <= 0 {
			continue
		}
		for i, c := range list.Contexts {
			contribution := list.Weight / float64(k+i+1)
			key := fusionKey(c)
			e, ok := entries[key]
			if !ok {
				tagged := c
				tagged.Channel = list.Channel
				e = &fusedEntry{ctx: tagged, firstSeen: order}
				entries[key] = e
				order++
			} else if contribution > e.best {
				e.ctx.Channel = list.Channel
			}
			if contribution > e.best {
				e.best = contribution
			}
			e.score += contribution
			e.channels = append(e.channels, string(list.Channel))
		}
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		fused = append(fused, e)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].firstSeen < fused[j].firstSeen
	})

	out := make([]RetrievedContext, len(fused))
	maxScore := 0.0
	if len(fused) > 0 {
		maxScore = fused[0].score
	}
	for i, e := range fused {
		c := e.ctx
		meta := make(map[string]any, len(c.Metadata)+2)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta["rrf_score"] = e.score
		meta["fused_channels"] = e.channels
		c.Metadata = meta
		if maxScore > 0 {
			c.Score = e.score / maxScore
		}
		c.Rank = i + 1
		out[i] = c
	}
	return out
}
