package data

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observedCall struct {
	provider string
	op       string
	status   int
}

type recordingCollector struct {
	metrics.Collector
	mu    sync.Mutex
	calls []observedCall
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{Collector: metrics.NewNoopCollector()}
}

func (c *recordingCollector) ObserveConnectorCall(provider, op string, status int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, observedCall{provider, op, status})
}

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]interface{}
}

// fakeDMS serves canned JSON per "METHOD /path" and records every request.
type fakeDMS struct {
	t        *testing.T
	mu       sync.Mutex
	routes   map[string]func(w http.ResponseWriter)
	requests []capturedRequest
}

func newFakeDMS(t *testing.T) (*fakeDMS, *httptest.Server) {
	f := &fakeDMS{t: t, routes: make(map[string]func(w http.ResponseWriter))}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeDMS) on(route string, status int, body string) {
	f.routes[route] = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeDMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := capturedRequest{method: r.Method, path: r.URL.EscapedPath(), header: r.Header.Clone()}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		assert.NoError(f.t, json.Unmarshal(raw, &req.body))
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	handler, ok := f.routes[r.Method+" "+req.path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w)
}

func (f *fakeDMS) last() capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testConnectorConf() *conf.Connector {
	return &conf.Connector{RequestTimeout: 2 * time.Second}
}

func connectAutovance(t *testing.T, baseURL string, collector metrics.Collector) *AutovanceConnector {
	t.Helper()
	a := NewAutovanceConnector(testConnectorConf(), collector, log.DefaultLogger)
	ok, err := a.Connect(context.Background(), &biz.ConnectorConfig{
		Provider: biz.ProviderAutovance,
		BaseURL:  baseURL,
		APIKey:   "av-key",
	})
	require.NoError(t, err)
	require.True(t, ok)
	return a
}

func TestAutovance_ConnectSendsBearer(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{"status":"ok"}`)
	collector := newRecordingCollector()

	connectAutovance(t, server.URL, collector)

	req := dms.last()
	assert.Equal(t, "Bearer av-key", req.header.Get("Authorization"))
	assert.Equal(t, "application/json", req.header.Get("Accept"))
	assert.Equal(t, []observedCall{{"autovance", "testConnection", 200}}, collector.calls)
}

func TestAutovance_ConnectFailures(t *testing.T) {
	a := NewAutovanceConnector(testConnectorConf(), nil, log.DefaultLogger)
	ok, err := a.Connect(context.Background(), &biz.ConnectorConfig{Provider: biz.ProviderAutovance})
	assert.NoError(t, err)
	assert.False(t, ok, "missing API key")

	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusUnauthorized, `{"error":"invalid key"}`)
	ok, err = a.Connect(context.Background(), &biz.ConnectorConfig{Provider: biz.ProviderAutovance, BaseURL: server.URL, APIKey: "bad"})
	assert.False(t, ok)
	var dmsErr *DMSError
	require.ErrorAs(t, err, &dmsErr)
	assert.Equal(t, http.StatusUnauthorized, dmsErr.StatusCode)
	assert.Contains(t, dmsErr.Body, "invalid key")
}

func TestAutovance_NotConnected(t *testing.T) {
	a := NewAutovanceConnector(testConnectorConf(), nil, log.DefaultLogger)

	_, err := a.GetLead(context.Background(), "c-1")
	assert.ErrorIs(t, err, biz.ErrNotConnected)
	_, err = a.TestConnection(context.Background())
	assert.ErrorIs(t, err, biz.ErrNotConnected)
}

func TestAutovance_SyncVehicles(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{}`)
	dms.on("GET /inventory", http.StatusOK, `[
		{"vin":"1HGCM82633A004352","year":2021,"make":"Honda","model":"Accord","odometer":12000,"sellingPrice":24500,"status":"available","photos":["a.jpg"]},
		{"vin":"","stockNumber":"S-9","year":2019,"make":"Ford","model":"F-150","status":"available"}
	]`)

	a := connectAutovance(t, server.URL, nil)

	first, err := a.SyncVehicles(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.RecordsCreated)
	assert.Equal(t, 0, first.RecordsUpdated)
	assert.Equal(t, 1, first.RecordsFailed)
	require.Len(t, first.Errors, 1)
	assert.Contains(t, first.Errors[0], "S-9")
	assert.False(t, first.Timestamp.IsZero())

	second, err := a.SyncVehicles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.RecordsCreated)
	assert.Equal(t, 1, second.RecordsUpdated)
}

func TestAutovance_GetVehicle(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{}`)
	dms.on("GET /inventory/VIN1", http.StatusOK, `{"vin":"VIN1","year":2022,"make":"Kia","model":"EV6","odometer":10,"sellingPrice":41000.5,"status":"sold","photos":["p.jpg"],"features":["AWD"]}`)

	a := connectAutovance(t, server.URL, nil)

	v, err := a.GetVehicle(context.Background(), "VIN1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "EV6", v.Model)
	require.NotNil(t, v.Mileage)
	assert.Equal(t, 10, *v.Mileage)
	require.NotNil(t, v.Price)
	assert.Equal(t, 41000.5, *v.Price)
	assert.Equal(t, []string{"p.jpg"}, v.Images)
	assert.Equal(t, []string{"AWD"}, v.Features)

	missing, err := a.GetVehicle(context.Background(), "UNKNOWN")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAutovance_Leads(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{}`)
	dms.on("POST /customers", http.StatusCreated, `{"customerId":"C-77"}`)
	dms.on("GET /customers/C-77", http.StatusOK, `{"id":"77","customerId":"C-77","firstName":"Ada","lastName":"Lovelace","notes":"vip"}`)
	dms.on("PUT /customers/C-77", http.StatusNoContent, ``)

	a := connectAutovance(t, server.URL, nil)
	ctx := context.Background()

	id, err := a.CreateLead(ctx, &biz.Lead{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Source:    "website",
		Metadata:  map[string]interface{}{"notes": "vip"},
	})
	require.NoError(t, err)
	assert.Equal(t, "C-77", id)
	req := dms.last()
	assert.Equal(t, "Ada", req.body["firstName"])
	assert.Equal(t, "vip", req.body["notes"])
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))

	lead, err := a.GetLead(ctx, "C-77")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "C-77", lead.ExternalID)
	assert.Equal(t, "unknown", lead.Source)
	assert.Equal(t, "new", lead.Status)
	assert.Equal(t, "vip", lead.Metadata["notes"])

	require.NoError(t, a.UpdateLead(ctx, "C-77", &biz.Lead{Status: "contacted"}))
	assert.Equal(t, "contacted", dms.last().body["status"])
}

func TestAutovance_QuotesAndCredit(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{}`)
	dms.on("POST /desking", http.StatusCreated, `{"deskingId":"D-5"}`)
	dms.on("GET /desking/D-5", http.StatusOK, `{"id":"5","deskingId":"D-5","customerId":"C-1","vehicleVin":"VIN1","sellingPrice":30000,"tradeAllowance":5000,"financeTerm":60,"totalPrice":33000}`)
	dms.on("POST /credit-applications", http.StatusCreated, `{"id":"CA-1"}`)
	dms.on("GET /credit-applications/CA-1", http.StatusOK, `{"status":"approved"}`)

	a := connectAutovance(t, server.URL, nil)
	ctx := context.Background()

	term := 60
	id, err := a.CreateQuote(ctx, &biz.Quote{LeadID: "C-1", VehicleID: "VIN1", VehiclePrice: 30000, FinanceTerm: &term})
	require.NoError(t, err)
	assert.Equal(t, "D-5", id)
	assert.Equal(t, "C-1", dms.last().body["customerId"])
	assert.Equal(t, float64(30000), dms.last().body["sellingPrice"])

	q, err := a.GetQuote(ctx, "D-5")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, float64(30000), q.VehiclePrice)
	require.NotNil(t, q.TradeInValue)
	assert.Equal(t, float64(5000), *q.TradeInValue)
	assert.Nil(t, q.DownPayment)

	appID, err := a.SubmitCreditApp(ctx, &biz.CreditApplication{LeadID: "C-1", ApplicantData: map[string]interface{}{"name": "Ada"}, SoftPull: true})
	require.NoError(t, err)
	assert.Equal(t, "CA-1", appID)
	assert.Equal(t, true, dms.last().body["softPull"])

	status, err := a.GetCreditAppStatus(ctx, "CA-1")
	require.NoError(t, err)
	assert.Equal(t, "approved", status)

	status, err = a.GetCreditAppStatus(ctx, "CA-404")
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestAutovance_ServerErrorIsReturned(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{}`)
	dms.on("GET /customers/C-1", http.StatusBadGateway, `upstream down`)

	a := connectAutovance(t, server.URL, nil)

	lead, err := a.GetLead(context.Background(), "C-1")
	assert.Nil(t, lead)
	var dmsErr *DMSError
	require.ErrorAs(t, err, &dmsErr)
	assert.Equal(t, http.StatusBadGateway, dmsErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestAutovance_EscapesPathIDs(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /health", http.StatusOK, `{}`)
	a := connectAutovance(t, server.URL, nil)

	_, _ = a.GetLead(context.Background(), "a/b")
	assert.Equal(t, "/customers/a%2Fb", dms.last().path)
}

func connectDealertrack(t *testing.T, baseURL string) *DealertrackConnector {
	t.Helper()
	d := NewDealertrackConnector(testConnectorConf(), nil, log.DefaultLogger)
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ok, err := d.Connect(context.Background(), &biz.ConnectorConfig{
		Provider:   biz.ProviderDealertrack,
		BaseURL:    baseURL,
		Username:   "dealer",
		Password:   "secret",
		DealerCode: "D100",
	})
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func TestDealertrack_ConnectSendsBasicAuth(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /ping", http.StatusOK, `{}`)

	connectDealertrack(t, server.URL)

	req := dms.last()
	// base64("dealer:secret")
	assert.Equal(t, "Basic ZGVhbGVyOnNlY3JldA==", req.header.Get("Authorization"))
	assert.Equal(t, "D100", req.header.Get("X-Dealer-Code"))
}

func TestDealertrack_MissingCredentials(t *testing.T) {
	d := NewDealertrackConnector(testConnectorConf(), nil, log.DefaultLogger)
	ok, err := d.Connect(context.Background(), &biz.ConnectorConfig{Provider: biz.ProviderDealertrack, Username: "u"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDealertrack_Prospects(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /ping", http.StatusOK, `{}`)
	dms.on("POST /prospects", http.StatusCreated, `{"prospectId":"P-1"}`)
	dms.on("GET /prospects/P-1", http.StatusOK, `{"id":"1","prospectId":"P-1","firstName":"Bo","lastName":"Diddley","status":"working"}`)

	d := connectDealertrack(t, server.URL)
	ctx := context.Background()

	id, err := d.CreateLead(ctx, &biz.Lead{FirstName: "Bo", LastName: "Diddley", Source: "walk-in"})
	require.NoError(t, err)
	assert.Equal(t, "P-1", id)
	assert.Equal(t, "D100", dms.last().body["dealerCode"])

	lead, err := d.GetLead(ctx, "P-1")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "working", lead.Status)
	assert.Equal(t, "P-1", lead.Metadata["dealertrackId"])
}

func TestDealertrack_DealsAndCredit(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /ping", http.StatusOK, `{}`)
	dms.on("POST /deals", http.StatusCreated, `{"dealId":"DL-9"}`)
	dms.on("GET /deals/DL-9", http.StatusOK, `{"dealId":"DL-9","prospectId":"P-1","vehicleVin":"VIN1","salePrice":25000,"apr":4.9,"term":72}`)
	dms.on("POST /credit-applications", http.StatusCreated, `{"applicationId":"APP-3"}`)
	dms.on("GET /credit-applications/APP-3/status", http.StatusOK, `{"status":"stip"}`)

	d := connectDealertrack(t, server.URL)
	ctx := context.Background()

	rate := 4.9
	id, err := d.CreateQuote(ctx, &biz.Quote{LeadID: "P-1", VehicleID: "VIN1", VehiclePrice: 25000, FinanceRate: &rate})
	require.NoError(t, err)
	assert.Equal(t, "DL-9", id)
	body := dms.last().body
	assert.Equal(t, float64(25000), body["salePrice"])
	assert.Equal(t, 4.9, body["apr"])
	assert.Equal(t, "D100", body["dealerCode"])

	q, err := d.GetQuote(ctx, "DL-9")
	require.NoError(t, err)
	require.NotNil(t, q.FinanceTerm)
	assert.Equal(t, 72, *q.FinanceTerm)

	appID, err := d.SubmitCreditApp(ctx, &biz.CreditApplication{
		LeadID:          "P-1",
		ApplicantData:   map[string]interface{}{"name": "Bo"},
		CoApplicantData: map[string]interface{}{"name": "Jo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "APP-3", appID)
	body = dms.last().body
	assert.Equal(t, "joint", body["applicationType"])
	assert.Equal(t, "CREDIT_EXTENSION", body["permissiblePurpose"])
	assert.Equal(t, map[string]interface{}{"timestamp": "2026-01-02T03:04:05Z", "method": "electronic"}, body["consent"])

	status, err := d.GetCreditAppStatus(ctx, "APP-3")
	require.NoError(t, err)
	assert.Equal(t, "stip", status)
}

func TestDealertrack_DisconnectClearsSession(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /ping", http.StatusOK, `{}`)
	d := connectDealertrack(t, server.URL)

	require.NoError(t, d.Disconnect(context.Background()))
	_, err := d.SyncVehicles(context.Background())
	assert.ErrorIs(t, err, biz.ErrNotConnected)
}

func TestRestClient_RateLimitHonoursContext(t *testing.T) {
	dms, server := newFakeDMS(t)
	dms.on("GET /ping", http.StatusOK, `{}`)

	c, err := newRestClient("dealertrack", server.URL, "", &conf.Connector{RateLimit: 0.001, RateBurst: 1}, nil, nil, log.NewHelper(log.DefaultLogger))
	require.NoError(t, err)

	require.NoError(t, c.do(context.Background(), "ping", http.MethodGet, "/ping", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.do(ctx, "ping", http.MethodGet, "/ping", nil, nil)
	assert.ErrorContains(t, err, "rate limit")
}

func TestConnectorFactory_Create(t *testing.T) {
	f := NewConnectorFactory(testConnectorConf(), nil, log.DefaultLogger)

	av, err := f.Create(biz.ProviderAutovance)
	require.NoError(t, err)
	assert.IsType(t, &AutovanceConnector{}, av)

	dt, err := f.Create(biz.ProviderDealertrack)
	require.NoError(t, err)
	assert.IsType(t, &DealertrackConnector{}, dt)

	_, err = f.Create("reynolds")
	assert.ErrorIs(t, err, biz.ErrUnknownProvider)
}

func TestDMSError_TruncatesBody(t *testing.T) {
	err := &DMSError{Provider: "autovance", StatusCode: 500, Body: string(make([]byte, 500))}
	assert.Less(t, len(err.Error()), 300)
}
