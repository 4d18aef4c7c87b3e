package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

func TestTaskMetrics_ObserveTaskOutcome(t *testing.T) {
	TaskOutcomesTotal.Reset()
	TaskDuration.Reset()

	TaskMetrics{}.ObserveTaskOutcome(domain.MarketCN, domain.ErrTimeout, 2*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(TaskOutcomesTotal.WithLabelValues("CN", "timeout")))
}

func TestTaskMetrics_ObserveTaskOutcome_Success(t *testing.T) {
	TaskOutcomesTotal.Reset()

	TaskMetrics{}.ObserveTaskOutcome(domain.MarketUS, "", time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(TaskOutcomesTotal.WithLabelValues("US", "")))
}
