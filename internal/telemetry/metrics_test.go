package telemetry

import (
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vec metrics only show up in a gather once a label set is used, so the
// names are checked through Describe.
func TestMetrics_Names(t *testing.T) {
	cases := map[string]prometheus.Collector{
		"http_requests_total":           HTTPRequestsTotal,
		"http_request_duration_seconds": HTTPRequestDuration,
		"transitions_total":             TransitionsTotal,
		"audit_entries_total":           AuditEntriesTotal,
		"audit_ship_failures_total":     AuditShipFailuresTotal,
		"file_uploads_total":            FileUploadsTotal,
		"file_downloads_total":          FileDownloadsTotal,
		"cache_requests_total":          CacheRequestsTotal,
		"background_panics_total":       BackgroundPanicsTotal,
		"rate_limited_total":            RateLimitedTotal,
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 4)
			c.Describe(ch)
			close(ch)
			desc := <-ch
			require.NotNil(t, desc)
			assert.Contains(t, desc.String(), `fqName: "`+name+`"`)
		})
	}
}

func TestMetrics_LabelSets(t *testing.T) {
	tests := []struct {
		name string
		c    prometheus.Counter
	}{
		{"transition", TransitionsTotal.WithLabelValues("pqrsfd", "radicar", "precondition")},
		{"audit entry", AuditEntriesTotal.WithLabelValues("state_change")},
		{"upload", FileUploadsTotal.WithLabelValues("rejected")},
		{"cache", CacheRequestsTotal.WithLabelValues("redis", "miss")},
		{"limiter", RateLimitedTotal.WithLabelValues("login")},
		{"panic", BackgroundPanicsTotal.WithLabelValues("audit_ship")},
		{"ship failure", AuditShipFailuresTotal},
		{"download", FileDownloadsTotal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.c)
			tt.c.Inc()
			assert.Equal(t, before+1, testutil.ToFloat64(tt.c))
		})
	}
}

func TestMetrics_HTTPDurationBuckets(t *testing.T) {
	HTTPRequestDuration.WithLabelValues("GET", "/api/v1/pqrsfd").Observe(0.02)
	assert.Positive(t, testutil.CollectAndCount(HTTPRequestDuration, "http_request_duration_seconds"))
}

func TestRegisterDBStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterDBStats(reg, db, "veeduria"))
	assert.Error(t, RegisterDBStats(reg, db, "veeduria"), "a second collector for the same pool is rejected")

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
		if f.GetName() == "go_sql_max_open_connections" {
			require.NotEmpty(t, f.GetMetric())
			labels := f.GetMetric()[0].GetLabel()
			require.NotEmpty(t, labels)
			assert.Equal(t, "db_name", labels[0].GetName())
			assert.Equal(t, "veeduria", labels[0].GetValue())
		}
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "go_sql_open_connections")
	assert.Contains(t, joined, "go_sql_wait_count_total")
}
