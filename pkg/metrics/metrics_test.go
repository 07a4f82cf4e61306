package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("test.op", "false"))

	Observe("test.op", time.Now(), errors.New("failed"))
	Observe("test.op", time.Now(), nil)

	assert.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("test.op", "false")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(OperationsTotal.WithLabelValues("test.op", "true")), 1.0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	AuditWriteFailures.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "entitygraph_audit_write_failures_total"))
}
