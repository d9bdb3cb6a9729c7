package rag

// Weights 四路检索的通道权重
type Weights struct {
	Vector float64 `json:"vector" yaml:"vector"`
	BM25   float64 `json:"bm25" yaml:"bm25"`
	Local  float64 `json:"local" yaml:"local"`
	Global float64 `json:"global" yaml:"global"`
}

// ChannelCounts 四路检索各通道的原始结果数
type ChannelCounts struct {
	Vector      int `json:"vector"`
	BM25        int `json:"bm25"`
	GraphLocal  int `json:"graph_local"`
	GraphGlobal int `json:"graph_global"`
}

// Total 返回结果总数
func (c ChannelCounts) Total() int {
	return c.Vector + c.BM25 + c.GraphLocal + c.GraphGlobal
}

// Add 按通道累加计数，非四路通道忽略
func (c *ChannelCounts) Add(ch Channel, n int) {
	switch ch {
	case ChannelVector:
		c.Vector += n
	case ChannelBM25:
		c.BM25 += n
	case ChannelGraphLocal:
		c.GraphLocal += n
	case ChannelGraphGlobal:
		c.GraphGlobal += n
	}
}

// For 返回指定通道的结果数
func (c ChannelCounts) For(ch Channel) int {
	switch ch {
	case ChannelVector:
		return c.Vector
	case ChannelBM25:
		return c.BM25
	case ChannelGraphLocal:
		return c.GraphLocal
	case ChannelGraphGlobal:
		return c.GraphGlobal
	}
	return 0
}

func (c ChannelCounts) slice() [4]int {
	return [4]int{c.Vector, c.BM25, c.GraphLocal, c.GraphGlobal}
}

func (w Weights) slice() [4]float64 {
	return [4]float64{w.Vector, w.BM25, w.Local, w.Global}
}

func weightsFrom(v [4]float64) Weights {
	return Weights{Vector: v[0], BM25: v[1], Local: v[2], Global: v[3]}
}

// For 返回指定通道的权重
func (w Weights) For(ch Channel) float64 {
	switch ch {
	case ChannelVector:
		return w.Vector
	case ChannelBM25:
		return w.BM25
	case ChannelGraphLocal:
		return w.Local
	case ChannelGraphGlobal:
		return w.Global
	}
	return 0
}

// EvenWeights 四路均分权重
func EvenWeights() Weights {
	return Weights{Vector: 0.25, BM25: 0.25, Local: 0.25, Global: 0.25}
}

// DefaultIntentWeights 各意图的名义权重
func DefaultIntentWeights() map[string]Weights {
	return map[string]Weights{
		"hybrid": {Vector: 0.4, BM25: 0.3, Local: 0.2, Global: 0.1},
		"vector": {Vector: 0.6, BM25: 0.4},
		"graph":  {Vector: 0.1, BM25: 0.1, Local: 0.5, Global: 0.3},
		"memory": {Vector: 0.5, BM25: 0.5},
	}
}

// EffectiveWeights 计算有效权重：无结果通道权重为 0，其名义权重按比例
// 重新分配给有结果的通道；所有通道均无结果时全部为 0。
// nominal 为 nil 时使用均分权重，同样只在有结果的通道间分配。
func EffectiveWeights(nominal *Weights, counts ChannelCounts) Weights {
	n := EvenWeights()
	if nominal != nil {
		n = *nominal
	}

	vals := n.slice()
	cnts := counts.slice()

	var out [4]float64
	support := 0
	mass := 0.0
	for i := range vals {
		if cnts[i] <= 0 {
			continue
		}
		support++
		if vals[i] > 0 {
			mass += vals[i]
		}
	}
	if support == 0 {
		return Weights{}
	}

	for i := range vals {
		if cnts[i] <= 0 {
			continue
		}
		if mass <= 0 {
			out[i] = 1.0 / float64(support)
			continue
		}
		if vals[i] > 0 {
			out[i] = vals[i] / mass
		}
	}
	return weightsFrom(out)
}
