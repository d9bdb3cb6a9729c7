package api

import (
	"time"
)

// =============================================================================
// 查询类型
// =============================================================================

// QueryRequest 查询请求。
// @Description RAG 查询请求结构
type QueryRequest struct {
	// 用户问题
	Query string `json:"query" example:"What is hybrid retrieval?" binding:"required"`
	// 会话 ID，提供时启用多轮上下文与检查点
	SessionID string `json:"session_id,omitempty" example:"sess-123"`
	// 强制意图（vector、graph、hybrid、memory），为空时自动分类
	Intent string `json:"intent,omitempty" example:"hybrid"`
	// 检索命名空间
	Namespaces []string `json:"namespaces,omitempty"`
}

// =============================================================================
// 会话类型
// =============================================================================

// FollowUpsResponse 追问列表。
// @Description 会话的追问建议
type FollowUpsResponse struct {
	SessionID string   `json:"session_id" example:"sess-123"`
	Questions []string `json:"questions"`
}

// CheckpointSummary 检查点摘要，不含完整状态。
// @Description 会话检查点摘要
type CheckpointSummary struct {
	ID           string    `json:"id"`
	Partial      bool      `json:"partial"`
	CreatedAt    time.Time `json:"created_at"`
	Query        string    `json:"query"`
	Intent       string    `json:"intent,omitempty"`
	Answer       string    `json:"answer,omitempty"`
	MessageCount int       `json:"message_count"`
}

// CheckpointsResponse 检查点列表，按时间倒序。
// @Description 会话检查点列表
type CheckpointsResponse struct {
	SessionID   string              `json:"session_id" example:"sess-123"`
	Checkpoints []CheckpointSummary `json:"checkpoints"`
}

// ClearSessionResponse 会话删除结果。
// @Description 会话删除结果
type ClearSessionResponse struct {
	SessionID string `json:"session_id" example:"sess-123"`
	Deleted   bool   `json:"deleted"`
}
