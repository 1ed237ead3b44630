package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_Singleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	m := NewMetrics()

	router := mux.NewRouter()
	router.Use(Middleware(m))
	router.HandleFunc("/query/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodDelete)

	before := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodDelete, "/query/{id:[0-9]+}", "404"))

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodDelete, "/query/"+id, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	after := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodDelete, "/query/{id:[0-9]+}", "404"))
	assert.Equal(t, 3.0, after-before)
}

func TestRecordForward(t *testing.T) {
	m := NewMetrics()
	counter := m.forwardsTotal.WithLabelValues("delete", "partially_replicated", "timeout")

	before := testutil.ToFloat64(counter)
	m.RecordForward("delete", "partially_replicated", "timeout", 5*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter)-before)

	m.SetOutboxDepth(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.outboxDepth))
}
