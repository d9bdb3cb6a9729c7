package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PhaseRecorder 接收终态阶段的耗时，由 internal/metrics.Collector 实现
type PhaseRecorder interface {
	RecordPhase(phaseType, status string, duration time.Duration)
}

// AttachMetrics 订阅阶段事件并把终态阶段的耗时写入 recorder，返回订阅 ID
func AttachMetrics(bus Bus, recorder PhaseRecorder) string {
	return bus.Subscribe(KindPhase, func(ev Event) {
		if ev.Phase == nil || !ev.Phase.Status.Terminal() {
			return
		}
		var d time.Duration
		if ms := ev.Phase.DurationMs(); ms != nil {
			d = time.Duration(*ms * float64(time.Millisecond))
		}
		recorder.RecordPhase(string(ev.Phase.PhaseType), string(ev.Phase.Status), d)
	})
}

// Publisher NATS 发布接口，*nats.Conn 满足该接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// DefaultSubjectPrefix 阶段事件的 NATS subject 前缀
const DefaultSubjectPrefix = "aegis.phase"

// NATSSink 将阶段事件转发到 NATS，subject 为 <prefix>.<phase_type>
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSSink 创建 NATS sink
func NewNATSSink(pub Publisher, prefix string, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{
		pub:    pub,
		prefix: prefix,
		logger: logger.With(zap.String("component", "nats_sink")),
	}
}

// Subject 返回阶段类型对应的 subject
func (s *NATSSink) Subject(phaseType string) string {
	return s.prefix + "." + phaseType
}

// Attach 订阅总线上的阶段事件
func (s *NATSSink) Attach(bus Bus) string {
	return bus.Subscribe(KindPhase, s.handle)
}

func (s *NATSSink) handle(ev Event) {
	if ev.Phase == nil {
		return
	}
	payload := struct {
		SessionID string `json:"session_id,omitempty"`
		Phase     any    `json:"phase"`
	}{SessionID: ev.SessionID, Phase: ev.Phase}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal phase event", zap.Error(err))
		return
	}
	subject := s.Subject(string(ev.Phase.PhaseType))
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish phase event", zap.String("subject", subject), zap.Error(err))
	}
}

// ConnectNATS 连接 NATS，断线自动重连
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
