package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.queriesTotal)
	assert.NotNil(t, collector.phaseDuration)
	assert.NotNil(t, collector.llmRequestsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.RecordHTTPRequest("POST", "/v1/query", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/query", 200, 50*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/query", 503, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/query", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/query", "5xx")))
}

func TestCollector_RecordQueryAndPhase(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.RecordQuery("stream", "hybrid", "success", 2*time.Second)
	collector.RecordPhase("vector_search", "completed", 120*time.Millisecond)
	collector.RecordPhase("vector_search", "failed", 10*time.Millisecond)
	collector.RecordChannelResults("vector", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.queriesTotal.WithLabelValues("stream", "hybrid", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.phaseTotal.WithLabelValues("vector_search", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.phaseDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.channelResults))
}

func TestCollector_OrchestrationCounters(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.RecordGraphCompilation("success")
	collector.RecordGraphCompilation("success")
	collector.RecordBackgroundTask("follow_up_questions", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.graphCompilations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.backgroundTasks.WithLabelValues("follow_up_questions", "failed")))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.RecordLLMRequest("openai", "gpt-4o-mini", "success", time.Second, 100, 40)

	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "prompt")))
	assert.Equal(t, 40.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "completion")))
}

func TestCollector_CacheAndDB(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.RecordCacheHit("followups")
	collector.RecordCacheMiss("followups")
	collector.RecordCacheMiss("followups")
	collector.RecordDBConnections("postgres", 5, 2)
	collector.RecordDBQuery("postgres", "select", 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheHits.WithLabelValues("followups")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheMisses.WithLabelValues("followups")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.RecordPhase("fusion", "completed", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.phaseTotal.WithLabelValues("fusion", "completed")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}
