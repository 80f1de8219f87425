package server

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/data"
	"ConnectorLane/internal/metrics"
	"ConnectorLane/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// autovanceStub answers the Autovance endpoints the admin API reaches.
type autovanceStub struct {
	healthy   atomic.Bool
	delay     atomic.Int64
	mu        sync.Mutex
	customers int
}

func newAutovanceStub(t *testing.T) (*autovanceStub, *httptest.Server) {
	stub := &autovanceStub{}
	stub.healthy.Store(true)
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return stub, server
}

func (s *autovanceStub) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.Method + " " + r.URL.Path {
	case "GET /health":
		if !s.healthy.Load() {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"maintenance"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	case "POST /customers":
		time.Sleep(time.Duration(s.delay.Load()))
		s.mu.Lock()
		s.customers++
		s.mu.Unlock()
		w.WriteHeader(nethttp.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"cust-1"}`)
	case "GET /inventory":
		_, _ = io.WriteString(w, `[{"vin":"1HGCM82633A004352","year":2022,"make":"Honda","model":"Civic","status":"available"}]`)
	default:
		w.WriteHeader(nethttp.StatusNotFound)
	}
}

func (s *autovanceStub) customerCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers
}

type testServer struct {
	srv     *http.Server
	manager *biz.ConnectorManager
	stub    *autovanceStub
	dmsURL  string
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	t.Helper()
	logger := log.DefaultLogger

	collector, err := metrics.NewPrometheusCollector("test", prometheus.NewRegistry())
	require.NoError(t, err)

	audit := biz.NewNoopAuditLogger()
	registry := biz.NewCircuitBreakerRegistry(&conf.Breaker{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          5 * time.Second,
		Cooldown:         time.Hour,
	}, collector, audit, logger)
	queue := biz.NewOfflineQueue(&conf.Queue{Key: "test:queue", MaxRetries: 2}, data.NewMemoryQueueStore(), collector, logger)
	connectorConf := &conf.Connector{
		RequestTimeout: 5 * time.Second,
		IdempotencyTTL: time.Minute,
		IdempotencyMax: 16,
	}
	factory := data.NewConnectorFactory(connectorConf, collector, logger)
	manager := biz.NewConnectorManager(factory, registry, queue, nil, audit, logger)
	svc := service.NewConnectorService(manager, connectorConf, logger)

	srv := NewHTTPServer(
		&conf.Server{HTTP: &conf.HTTP{Addr: ":0", Timeout: 5 * time.Second, AdminToken: adminToken}},
		&conf.Metrics{Enabled: true, Path: "/metrics"},
		svc, collector, logger,
	)

	stub, dms := newAutovanceStub(t)
	return &testServer{srv: srv, manager: manager, stub: stub, dmsURL: dms.URL}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (ts *testServer) initialize(t *testing.T) {
	t.Helper()
	rec, out := ts.do(t, "POST", "/v1/connectors/autovance/initialize",
		`{"apiKey":"av-key","baseUrl":"`+ts.dmsURL+`","environment":"sandbox"}`)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	require.Equal(t, true, out["initialized"])
}

func TestHTTPServer_InitializeAndStatus(t *testing.T) {
	ts := newTestServer(t, "")
	ts.initialize(t)

	rec, out := ts.do(t, "GET", "/v1/connectors/status", "")
	require.Equal(t, 200, rec.Code)

	connectors, ok := out["connectors"].([]interface{})
	require.True(t, ok)
	require.Len(t, connectors, 1)
	status := connectors[0].(map[string]interface{})
	assert.Equal(t, "autovance", status["provider"])
	assert.Equal(t, true, status["connected"])
	assert.Equal(t, "CLOSED", status["circuitState"])
	assert.Equal(t, float64(0), status["queuedOperations"])
}

func TestHTTPServer_TestConnections(t *testing.T) {
	ts := newTestServer(t, "")

	rec, out := ts.do(t, "GET", "/v1/connectors/test", "")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Empty(t, out["results"])
	assert.Empty(t, out["live"])

	ts.initialize(t)

	rec, out = ts.do(t, "GET", "/v1/connectors/test", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, map[string]interface{}{"autovance": true}, out["results"])
	assert.Equal(t, []interface{}{"autovance"}, out["live"])

	ts.stub.healthy.Store(false)
	rec, out = ts.do(t, "GET", "/v1/connectors/test", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, map[string]interface{}{"autovance": false}, out["results"])
	// the live connector and its breaker are untouched by the test
	assert.Equal(t, []interface{}{"autovance"}, out["live"])
	b, ok := ts.manager.Breakers().Get(biz.BreakerName("autovance"))
	require.True(t, ok)
	assert.Equal(t, biz.StateClosed, b.State())
}

func TestHTTPServer_InitializeFailureOpensBreaker(t *testing.T) {
	ts := newTestServer(t, "")
	ts.stub.healthy.Store(false)

	rec, out := ts.do(t, "POST", "/v1/connectors/autovance/initialize",
		`{"apiKey":"av-key","baseUrl":"`+ts.dmsURL+`"}`)
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, false, out["initialized"])
	assert.Equal(t, "OPEN", out["circuitState"])

	rec, out = ts.do(t, "GET", "/v1/circuit-breakers", "")
	require.Equal(t, 200, rec.Code)
	breakers := out["breakers"].([]interface{})
	require.Len(t, breakers, 1)
	assert.Equal(t, "connector-autovance", breakers[0].(map[string]interface{})["name"])

	rec, out = ts.do(t, "POST", "/v1/circuit-breakers/autovance/reset", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, float64(1), out["reset"])

	b, ok := ts.manager.Breakers().Get("connector-autovance")
	require.True(t, ok)
	assert.Equal(t, biz.StateClosed, b.State())
}

func TestHTTPServer_ResetUnknownBreaker(t *testing.T) {
	ts := newTestServer(t, "")

	rec, out := ts.do(t, "POST", "/v1/circuit-breakers/nobody/reset", "")
	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "BREAKER_NOT_FOUND", out["reason"])

	rec, out = ts.do(t, "POST", "/v1/circuit-breakers/reset", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, float64(0), out["reset"])
}

func TestHTTPServer_DispatchIsIdempotent(t *testing.T) {
	ts := newTestServer(t, "")
	ts.initialize(t)

	body := `{"operation":"createLead","payload":{"firstName":"Ada","lastName":"Lovelace","source":"web","status":"new"}}`

	rec, out := ts.do(t, "POST", "/v1/connectors/autovance/operations", body, "Idempotency-Key", "k-1")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, "cust-1", out["result"])
	assert.Equal(t, false, out["queued"])
	assert.Nil(t, out["replayed"])

	rec, out = ts.do(t, "POST", "/v1/connectors/autovance/operations", body, "Idempotency-Key", "k-1")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "cust-1", out["result"])
	assert.Equal(t, true, out["replayed"])
	assert.Equal(t, 1, ts.stub.customerCalls())

	rec, _ = ts.do(t, "POST", "/v1/connectors/autovance/operations", body, "Idempotency-Key", "k-2")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, 2, ts.stub.customerCalls())
}

func TestHTTPServer_DispatchConcurrentSameKey(t *testing.T) {
	ts := newTestServer(t, "")
	ts.initialize(t)
	ts.stub.delay.Store(int64(100 * time.Millisecond))

	body := `{"operation":"createLead","payload":{"firstName":"Ada","lastName":"Lovelace","source":"web","status":"new"}}`

	const callers = 4
	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/v1/connectors/autovance/operations", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Idempotency-Key", "k-same")
			rec := httptest.NewRecorder()
			ts.srv.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, 200, code)
	}
	assert.Equal(t, 1, ts.stub.customerCalls())

	// a later retry is answered from the cache
	rec, out := ts.do(t, "POST", "/v1/connectors/autovance/operations", body, "Idempotency-Key", "k-same")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, true, out["replayed"])
	assert.Equal(t, 1, ts.stub.customerCalls())
}

func TestHTTPServer_DispatchValidation(t *testing.T) {
	ts := newTestServer(t, "")

	rec, out := ts.do(t, "POST", "/v1/connectors/autovance/operations", `{"operation":"deleteEverything"}`)
	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "UNKNOWN_OPERATION", out["reason"])

	rec, out = ts.do(t, "POST", "/v1/connectors/autovance/operations", `{"operation":"createLead"}`)
	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "INVALID_PAYLOAD", out["reason"])
}

func TestHTTPServer_QueueLifecycle(t *testing.T) {
	ts := newTestServer(t, "")

	// No live connector: the operation is queued.
	rec, out := ts.do(t, "POST", "/v1/connectors/autovance/operations",
		`{"operation":"createLead","payload":{"firstName":"Ada","lastName":"Lovelace","source":"web","status":"new"}}`)
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, true, out["queued"])

	rec, out = ts.do(t, "GET", "/v1/queue?connector=autovance", "")
	require.Equal(t, 200, rec.Code)
	require.Len(t, out["operations"].([]interface{}), 1)
	stats := out["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["pending"])

	rec, out = ts.do(t, "GET", "/v1/queue?connector=dealertrack", "")
	require.Equal(t, 200, rec.Code)
	assert.Empty(t, out["operations"])

	ts.initialize(t)

	rec, out = ts.do(t, "POST", "/v1/queue/process", "")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), out["completed"])
	assert.Equal(t, 1, ts.stub.customerCalls())

	rec, out = ts.do(t, "DELETE", "/v1/queue/completed", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, float64(1), out["affected"])

	rec, out = ts.do(t, "POST", "/v1/queue/retry-failed", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, float64(0), out["affected"])

	rec, out = ts.do(t, "DELETE", "/v1/queue", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, float64(0), out["affected"])
}

func TestHTTPServer_LoadIntegrationsWithoutDatabase(t *testing.T) {
	ts := newTestServer(t, "")

	rec, out := ts.do(t, "POST", "/v1/integrations/org-1/load", "")
	assert.Equal(t, 503, rec.Code)
	assert.Equal(t, "INTEGRATIONS_UNAVAILABLE", out["reason"])
}

func TestHTTPServer_AdminToken(t *testing.T) {
	ts := newTestServer(t, "s3cret-token")

	tests := []struct {
		name     string
		headers  []string
		expected int
	}{
		{name: "missing", expected: 401},
		{name: "wrong", headers: []string{"Authorization", "Bearer nope"}, expected: 401},
		{name: "not_bearer", headers: []string{"Authorization", "s3cret-token"}, expected: 401},
		{name: "valid", headers: []string{"Authorization", "Bearer s3cret-token"}, expected: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := ts.do(t, "GET", "/v1/circuit-breakers", "", tt.headers...)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestHTTPServer_RequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, "")

	rec, _ := ts.do(t, "GET", "/v1/queue", "", "X-Request-ID", "req-123")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestHTTPServer_MetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "s3cret-token")
	ts.do(t, "POST", "/v1/connectors/autovance/initialize", `{"apiKey":"k","baseUrl":"`+ts.dmsURL+`"}`,
		"Authorization", "Bearer s3cret-token")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_circuit_breaker_state")
	assert.Contains(t, rec.Body.String(), "test_connector_request_duration_seconds")
}
