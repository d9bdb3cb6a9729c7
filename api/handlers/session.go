package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/klapom/aegisrag/agent/checkpoint"
	"github.com/klapom/aegisrag/api"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// SessionService 会话管理
type SessionService interface {
	FollowUpQuestions(ctx context.Context, sessionID string) ([]string, error)
	Checkpoints() checkpoint.Store
	ClearSession(ctx context.Context, sessionID string) (bool, error)
}

// SessionHandler 会话处理器
type SessionHandler struct {
	service SessionService
	logger  *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(service SessionService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "session")),
	}
}

// HandleFollowUps 返回会话的追问建议；后台尚未生成时为空列表
// @Summary 追问建议
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.FollowUpsResponse}
// @Security BearerAuth
// @Router /v1/sessions/{id}/followups [get]
func (h *SessionHandler) HandleFollowUps(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	questions, err := h.service.FollowUpQuestions(r.Context(), id)
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	if questions == nil {
		questions = []string{}
	}

	WriteSuccess(w, api.FollowUpsResponse{SessionID: id, Questions: questions})
}

// HandleCheckpoints 列出会话检查点摘要
// @Summary 会话检查点
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.CheckpointsResponse}
// @Failure 404 {object} Response "会话不存在"
// @Security BearerAuth
// @Router /v1/sessions/{id}/checkpoints [get]
func (h *SessionHandler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	store := h.service.Checkpoints()
	if store == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "checkpoint store is not configured", h.logger)
		return
	}

	cps, err := store.List(r.Context(), id)
	if err != nil {
		WriteError(w, types.WrapError(err, types.ErrCheckpointFailed, "failed to list checkpoints"), h.logger)
		return
	}
	if len(cps) == 0 {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "session not found", h.logger)
		return
	}

	summaries := make([]api.CheckpointSummary, 0, len(cps))
	for _, cp := range cps {
		summaries = append(summaries, summarize(cp))
	}
	WriteSuccess(w, api.CheckpointsResponse{SessionID: id, Checkpoints: summaries})
}

// HandleClear 删除会话的全部检查点
// @Summary 删除会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.ClearSessionResponse}
// @Failure 404 {object} Response "会话不存在"
// @Security BearerAuth
// @Router /v1/sessions/{id} [delete]
func (h *SessionHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.ClearSession(r.Context(), id)
	if err != nil {
		WriteError(w, types.WrapError(err, types.ErrCheckpointFailed, "failed to clear session"), h.logger)
		return
	}
	if !deleted {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "session not found", h.logger)
		return
	}

	h.logger.Info("session cleared", zap.String("session_id", id))
	WriteSuccess(w, api.ClearSessionResponse{SessionID: id, Deleted: true})
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return "", false
	}
	return id, true
}

func summarize(cp checkpoint.Checkpoint) api.CheckpointSummary {
	s := api.CheckpointSummary{
		ID:        cp.ID,
		Partial:   cp.Partial,
		CreatedAt: cp.CreatedAt,
	}
	if st := cp.State; st != nil {
		s.Query = st.Query
		s.Intent = string(st.Intent)
		s.Answer = st.Answer
		s.MessageCount = len(st.Messages)
	}
	return s
}
