package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/klapom/aegisrag/api"
	"github.com/klapom/aegisrag/orchestrator"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// wsWriteTimeout 单条 WebSocket 消息写入时限
const wsWriteTimeout = 10 * time.Second

// QueryService 查询执行
type QueryService interface {
	ProcessQuery(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	ProcessQueryStream(ctx context.Context, req orchestrator.Request) (<-chan orchestrator.Envelope, error)
}

// QueryHandler 查询处理器
type QueryHandler struct {
	service      QueryService
	maxBodyBytes int64
	wsOrigins    []string
	logger       *zap.Logger
}

// QueryOption 查询处理器选项
type QueryOption func(*QueryHandler)

// WithMaxBodyBytes 设置请求体上限
func WithMaxBodyBytes(n int64) QueryOption {
	return func(h *QueryHandler) { h.maxBodyBytes = n }
}

// WithWebSocketOrigins 允许的跨域 WebSocket Origin 模式
func WithWebSocketOrigins(patterns ...string) QueryOption {
	return func(h *QueryHandler) { h.wsOrigins = patterns }
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(service QueryService, logger *zap.Logger, opts ...QueryOption) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &QueryHandler{
		service:      service,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger.With(zap.String("handler", "query")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleQuery 处理批量查询
// @Summary 查询
// @Description 执行一次完整的 RAG 查询
// @Tags 查询
// @Accept json
// @Produce json
// @Param request body api.QueryRequest true "查询请求"
// @Success 200 {object} Response "查询结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 504 {object} Response "超时（data 中含部分结果）"
// @Security BearerAuth
// @Router /v1/query [post]
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.service.ProcessQuery(r.Context(), req)
	if err != nil {
		// 失败时仍返回错误状态下的结果，便于排查
		var data any
		if result != nil {
			data = result
		}
		WriteErrorWithData(w, AsAPIError(err), data, h.logger)
		return
	}

	WriteSuccess(w, result)
}

// HandleStream 处理 SSE 流式查询
// @Summary 流式查询
// @Description 以 SSE 推送阶段事件、token 与最终答案
// @Tags 查询
// @Accept json
// @Produce text/event-stream
// @Param request body api.QueryRequest true "查询请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Security BearerAuth
// @Router /v1/query/stream [post]
func (h *QueryHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	stream, err := h.service.ProcessQueryStream(r.Context(), req)
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for env := range stream {
		payload, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("failed to encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
			continue
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			h.drain(stream)
			return
		}
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HandleWebSocket 处理 WebSocket 流式查询。
// 客户端连接后发送一条 QueryRequest JSON，服务端逐条推送 Envelope 后正常关闭。
// @Summary WebSocket 流式查询
// @Tags 查询
// @Router /v1/query/ws [get]
func (h *QueryHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.wsOrigins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.maxBodyBytes)

	_, data, err := conn.Read(r.Context())
	if err != nil {
		h.logger.Debug("failed to read websocket request", zap.Error(err))
		return
	}
	var body api.QueryRequest
	if err := json.Unmarshal(data, &body); err != nil {
		h.logger.Warn("invalid websocket request", zap.Error(err))
		_ = h.writeWS(r.Context(), conn, orchestrator.Envelope{
			Type: orchestrator.EnvelopeError,
			Data: orchestrator.ErrorData{Code: string(types.ErrInvalidRequest), Message: "invalid JSON request"},
		})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	// 之后只写不读；客户端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	stream, err := h.service.ProcessQueryStream(ctx, toRequest(body))
	if err != nil {
		apiErr := AsAPIError(err)
		_ = h.writeWS(ctx, conn, orchestrator.Envelope{
			Type: orchestrator.EnvelopeError,
			Data: orchestrator.ErrorData{Code: string(apiErr.Code), Message: apiErr.Message},
		})
		conn.Close(websocket.StatusPolicyViolation, string(apiErr.Code))
		return
	}

	for env := range stream {
		if err := h.writeWS(ctx, conn, env); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			h.drain(stream)
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "done")
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *QueryHandler) decode(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return orchestrator.Request{}, false
	}
	var body api.QueryRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBodyBytes, h.logger); err != nil {
		return orchestrator.Request{}, false
	}
	return toRequest(body), true
}

func (h *QueryHandler) writeWS(ctx context.Context, conn *websocket.Conn, env orchestrator.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}

// drain 客户端断开后排空 channel，直到编排器因 ctx 取消而关闭它
func (h *QueryHandler) drain(stream <-chan orchestrator.Envelope) {
	for range stream {
	}
}

func toRequest(body api.QueryRequest) orchestrator.Request {
	return orchestrator.Request{
		Query:      body.Query,
		SessionID:  body.SessionID,
		Intent:     body.Intent,
		Namespaces: body.Namespaces,
	}
}

