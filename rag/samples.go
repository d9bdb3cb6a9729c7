package rag

import (
	"fmt"
	"strings"
)

// DefaultSamplesPerChannel 每个通道展示的样本数
const DefaultSamplesPerChannel = 3

// SampleTextLen 样本文本截断长度
const SampleTextLen = 200

// ChannelSample 供 UI 展示的通道证据样本
type ChannelSample struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Score       float64  `json:"score"`
	Rank        int      `json:"rank"`
	Source      string   `json:"source,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	CommunityID string   `json:"community_id,omitempty"`
}

var sampleChannels = map[Channel]bool{
	ChannelVector:      true,
	ChannelBM25:        true,
	ChannelGraphLocal:  true,
	ChannelGraphGlobal: true,
}

// ExtractChannelSamples 按通道分组抽取最多 perChannel 个样本。
// 只识别 vector / bm25 / graph_local / graph_global，其余通道标记丢弃。
func ExtractChannelSamples(contexts []RetrievedContext, query string, perChannel int) map[Channel][]ChannelSample {
	if perChannel <= 0 {
		perChannel = DefaultSamplesPerChannel
	}

	var keywords []string
	out := make(map[Channel][]ChannelSample)
	for _, c := range contexts {
		if !sampleChannels[c.Channel] {
			continue
		}
		if len(out[c.Channel]) >= perChannel {
			continue
		}

		s := ChannelSample{
			ID:     c.ID,
			Text:   truncateRunes(c.Text, SampleTextLen),
			Score:  c.Score,
			Rank:   c.Rank,
			Source: c.Source,
		}
		switch c.Channel {
		case ChannelBM25:
			if keywords == nil {
				keywords = strings.Fields(strings.ToLower(query))
			}
			s.Keywords = keywords
		case ChannelGraphLocal:
			s.Entities = stringList(c.Metadata["entities"])
		case ChannelGraphGlobal:
			s.CommunityID = stringValue(c.Metadata["community_id"])
			s.Entities = stringList(c.Metadata["entities"])
		}
		out[c.Channel] = append(out[c.Channel], s)
	}
	return out
}

// CountByChannel 按通道标记统计四路结果数
func CountByChannel(contexts []RetrievedContext) ChannelCounts {
	var counts ChannelCounts
	for _, c := range contexts {
		counts.Add(c.Channel, 1)
	}
	return counts
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}
