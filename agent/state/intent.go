package state

import "strings"

// Intent 查询意图
type Intent string

const (
	IntentVector  Intent = "vector"
	IntentGraph   Intent = "graph"
	IntentHybrid  Intent = "hybrid"
	IntentMemory  Intent = "memory"
	IntentUnknown Intent = "unknown"
)

// DefaultIntent 无法判断意图时的默认值
const DefaultIntent = IntentHybrid

// KnownIntents 可路由的意图，顺序即分类提示中的顺序
var KnownIntents = []Intent{IntentVector, IntentGraph, IntentHybrid, IntentMemory}

// IntentFromString 大小写不敏感地解析意图名称
func IntentFromString(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentVector:
		return IntentVector, true
	case IntentGraph:
		return IntentGraph, true
	case IntentHybrid:
		return IntentHybrid, true
	case IntentMemory:
		return IntentMemory, true
	case IntentUnknown:
		return IntentUnknown, true
	}
	return "", false
}

func (i Intent) String() string { return string(i) }
