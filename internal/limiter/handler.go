package limiter

import (
	"fmt"
	"net/http"
	"strings"
)

// MetricsHandler serves m in the Prometheus text exposition format.
func MetricsHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s := m.Snapshot()
		b := &strings.Builder{}
		writeMetric(b, "aivm_encodes_active", "gauge", s.Active)
		writeMetric(b, "aivm_encodes_rejected_total", "counter", s.Rejected)
		writeMetric(b, "aivm_encodes_queue_timeouts_total", "counter", s.Timeouts)
		writeMetric(b, "aivm_encodes_total", "counter", s.Encodes)
		writeMetric(b, "aivm_encodes_failed_total", "counter", s.Failures)
		writeMetric(b, "aivm_encoded_bytes_total", "counter", s.Bytes)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	})
}

func writeMetric(b *strings.Builder, name, kind string, value int64) {
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(b, "%s %d\n", name, value)
}
