package data

import (
	"context"
	"fmt"
	"net/http"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Autovance API base URLs.
const (
	AutovanceProductionURL = "https://api.autovance.com/v1"
	AutovanceSandboxURL    = "https://sandbox.autovance.com/v1"
)

type avVehicle struct {
	VIN          string   `json:"vin"`
	StockNumber  string   `json:"stockNumber,omitempty"`
	Year         int      `json:"year"`
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Trim         string   `json:"trim,omitempty"`
	Odometer     *int     `json:"odometer,omitempty"`
	SellingPrice *float64 `json:"sellingPrice,omitempty"`
	MSRP         *float64 `json:"msrp,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`
	Status       string   `json:"status"`
	Photos       []string `json:"photos,omitempty"`
	Features     []string `json:"features,omitempty"`
}

type avCustomer struct {
	ID         string `json:"id,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Source     string `json:"source,omitempty"`
	Status     string `json:"status,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type avDesking struct {
	ID             string   `json:"id,omitempty"`
	DeskingID      string   `json:"deskingId,omitempty"`
	CustomerID     string   `json:"customerId,omitempty"`
	VehicleVIN     string   `json:"vehicleVin,omitempty"`
	SellingPrice   float64  `json:"sellingPrice"`
	DownPayment    *float64 `json:"downPayment,omitempty"`
	TradeAllowance *float64 `json:"tradeAllowance,omitempty"`
	FinanceRate    *float64 `json:"financeRate,omitempty"`
	FinanceTerm    *int     `json:"financeTerm,omitempty"`
	MonthlyPayment *float64 `json:"monthlyPayment,omitempty"`
	TotalPrice     float64  `json:"totalPrice,omitempty"`
	Taxes          *float64 `json:"taxes,omitempty"`
	Fees           *float64 `json:"fees,omitempty"`
}

type avCreditApp struct {
	CustomerID  string                 `json:"customerId,omitempty"`
	SoftPull    bool                   `json:"softPull"`
	Applicant   map[string]interface{} `json:"applicant"`
	CoApplicant map[string]interface{} `json:"coApplicant,omitempty"`
	Employment  map[string]interface{} `json:"employment,omitempty"`
}

type avCreated struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	DeskingID  string `json:"deskingId"`
}

// AutovanceConnector talks to the Autovance REST API with a Bearer API key.
type AutovanceConnector struct {
	conf      *conf.Connector
	collector metrics.Collector
	logger    *log.Helper

	session
	inventory inventory
}

// NewAutovanceConnector creates an unconnected AutovanceConnector.
func NewAutovanceConnector(c *conf.Connector, collector metrics.Collector, logger log.Logger) *AutovanceConnector {
	return &AutovanceConnector{
		conf:      c,
		collector: collector,
		logger:    log.NewHelper(log.With(logger, "provider", biz.ProviderAutovance)),
	}
}

// Connect configures the client and tests the connection.
func (a *AutovanceConnector) Connect(ctx context.Context, cfg *biz.ConnectorConfig) (bool, error) {
	if cfg == nil || cfg.APIKey == "" {
		a.logger.Errorw("msg", "Autovance API key not configured")
		return false, nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = AutovanceProductionURL
		if cfg.Environment == "sandbox" {
			baseURL = AutovanceSandboxURL
		}
	}

	apiKey := cfg.APIKey
	client, err := newRestClient(biz.ProviderAutovance, baseURL, cfg.ProxyURL, a.conf, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}, a.collector, a.logger)
	if err != nil {
		return false, err
	}
	a.set(client)

	return a.TestConnection(ctx)
}

// Disconnect drops the client.
func (a *AutovanceConnector) Disconnect(_ context.Context) error {
	a.set(nil)
	return nil
}

// TestConnection calls /health.
func (a *AutovanceConnector) TestConnection(ctx context.Context) (bool, error) {
	c, err := a.get()
	if err != nil {
		return false, err
	}
	if err := c.do(ctx, "testConnection", http.MethodGet, "/health", nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// SyncVehicles pulls the full inventory.
func (a *AutovanceConnector) SyncVehicles(ctx context.Context) (*biz.SyncResult, error) {
	c, err := a.get()
	if err != nil {
		return nil, err
	}

	var raw []avVehicle
	if err := c.do(ctx, "syncVehicles", http.MethodGet, "/inventory", nil, &raw); err != nil {
		return nil, err
	}

	vehicles := make([]biz.Vehicle, 0, len(raw))
	for _, v := range raw {
		vehicles = append(vehicles, v.toVehicle())
	}
	res := a.inventory.record(vehicles)

	a.logger.Infow("msg", "vehicle sync completed",
		"created", res.RecordsCreated,
		"updated", res.RecordsUpdated,
		"failed", res.RecordsFailed)
	return res, nil
}

// GetVehicle returns nil when the VIN is unknown.
func (a *AutovanceConnector) GetVehicle(ctx context.Context, vin string) (*biz.Vehicle, error) {
	c, err := a.get()
	if err != nil {
		return nil, err
	}
	var raw avVehicle
	found, err := c.get(ctx, "getVehicle", "/inventory"+pathID(vin), &raw)
	if err != nil || !found {
		return nil, err
	}
	v := raw.toVehicle()
	return &v, nil
}

// UpdateVehicle replaces a vehicle record.
func (a *AutovanceConnector) UpdateVehicle(ctx context.Context, vin string, v *biz.Vehicle) error {
	c, err := a.get()
	if err != nil {
		return err
	}
	return c.do(ctx, "updateVehicle", http.MethodPut, "/inventory"+pathID(vin), fromVehicleAV(v), nil)
}

// CreateLead creates an Autovance customer and returns its id.
func (a *AutovanceConnector) CreateLead(ctx context.Context, lead *biz.Lead) (string, error) {
	c, err := a.get()
	if err != nil {
		return "", err
	}

	body := avCustomer{
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Email:     lead.Email,
		Phone:     lead.Phone,
		Source:    lead.Source,
	}
	if notes, ok := lead.Metadata["notes"].(string); ok {
		body.Notes = notes
	}

	var created avCreated
	if err := c.do(ctx, "createLead", http.MethodPost, "/customers", body, &created); err != nil {
		return "", err
	}
	id := firstNonEmpty(created.ID, created.CustomerID)
	if id == "" {
		return "", fmt.Errorf("autovance createLead: response has no id")
	}
	return id, nil
}

// UpdateLead updates an Autovance customer.
func (a *AutovanceConnector) UpdateLead(ctx context.Context, id string, lead *biz.Lead) error {
	c, err := a.get()
	if err != nil {
		return err
	}
	return c.do(ctx, "updateLead", http.MethodPut, "/customers"+pathID(id), lead, nil)
}

// GetLead returns nil when the customer is unknown.
func (a *AutovanceConnector) GetLead(ctx context.Context, id string) (*biz.Lead, error) {
	c, err := a.get()
	if err != nil {
		return nil, err
	}
	var raw avCustomer
	found, err := c.get(ctx, "getLead", "/customers"+pathID(id), &raw)
	if err != nil || !found {
		return nil, err
	}
	return &biz.Lead{
		ID:         raw.ID,
		ExternalID: raw.CustomerID,
		FirstName:  raw.FirstName,
		LastName:   raw.LastName,
		Email:      raw.Email,
		Phone:      raw.Phone,
		Source:     firstNonEmpty(raw.Source, "unknown"),
		Status:     firstNonEmpty(raw.Status, "new"),
		Metadata: map[string]interface{}{
			"notes":       raw.Notes,
			"autovanceId": raw.ID,
		},
	}, nil
}

// CreateQuote creates a desking worksheet and returns its id.
func (a *AutovanceConnector) CreateQuote(ctx context.Context, quote *biz.Quote) (string, error) {
	c, err := a.get()
	if err != nil {
		return "", err
	}
	var created avCreated
	if err := c.do(ctx, "createQuote", http.MethodPost, "/desking", fromQuoteAV(quote), &created); err != nil {
		return "", err
	}
	id := firstNonEmpty(created.ID, created.DeskingID)
	if id == "" {
		return "", fmt.Errorf("autovance createQuote: response has no id")
	}
	return id, nil
}

// GetQuote returns nil when the worksheet is unknown.
func (a *AutovanceConnector) GetQuote(ctx context.Context, id string) (*biz.Quote, error) {
	c, err := a.get()
	if err != nil {
		return nil, err
	}
	var raw avDesking
	found, err := c.get(ctx, "getQuote", "/desking"+pathID(id), &raw)
	if err != nil || !found {
		return nil, err
	}
	return &biz.Quote{
		ID:            raw.ID,
		ExternalID:    raw.DeskingID,
		LeadID:        raw.CustomerID,
		VehicleID:     raw.VehicleVIN,
		VehiclePrice:  raw.SellingPrice,
		DownPayment:   raw.DownPayment,
		TradeInValue:  raw.TradeAllowance,
		FinanceRate:   raw.FinanceRate,
		FinanceTerm:   raw.FinanceTerm,
		PaymentAmount: raw.MonthlyPayment,
		TotalPrice:    raw.TotalPrice,
		Taxes:         raw.Taxes,
		Fees:          raw.Fees,
	}, nil
}

// UpdateQuote updates a desking worksheet.
func (a *AutovanceConnector) UpdateQuote(ctx context.Context, id string, quote *biz.Quote) error {
	c, err := a.get()
	if err != nil {
		return err
	}
	return c.do(ctx, "updateQuote", http.MethodPut, "/desking"+pathID(id), fromQuoteAV(quote), nil)
}

// SubmitCreditApp submits a credit application and returns its id.
func (a *AutovanceConnector) SubmitCreditApp(ctx context.Context, app *biz.CreditApplication) (string, error) {
	c, err := a.get()
	if err != nil {
		return "", err
	}
	body := avCreditApp{
		CustomerID:  app.LeadID,
		SoftPull:    app.SoftPull,
		Applicant:   app.ApplicantData,
		CoApplicant: app.CoApplicantData,
		Employment:  app.EmploymentData,
	}
	var created avCreated
	if err := c.do(ctx, "submitCreditApp", http.MethodPost, "/credit-applications", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("autovance submitCreditApp: response has no id")
	}
	return created.ID, nil
}

// GetCreditAppStatus returns an empty status when the application is unknown.
func (a *AutovanceConnector) GetCreditAppStatus(ctx context.Context, id string) (string, error) {
	c, err := a.get()
	if err != nil {
		return "", err
	}
	var raw struct {
		Status string `json:"status"`
	}
	if _, err := c.get(ctx, "getCreditAppStatus", "/credit-applications"+pathID(id), &raw); err != nil {
		return "", err
	}
	return raw.Status, nil
}

func (v avVehicle) toVehicle() biz.Vehicle {
	return biz.Vehicle{
		VIN:         v.VIN,
		StockNumber: v.StockNumber,
		Year:        v.Year,
		Make:        v.Make,
		Model:       v.Model,
		Trim:        v.Trim,
		Mileage:     v.Odometer,
		Price:       v.SellingPrice,
		MSRP:        v.MSRP,
		Cost:        v.Cost,
		Status:      v.Status,
		Images:      v.Photos,
		Features:    v.Features,
	}
}

func fromVehicleAV(v *biz.Vehicle) avVehicle {
	return avVehicle{
		VIN:          v.VIN,
		StockNumber:  v.StockNumber,
		Year:         v.Year,
		Make:         v.Make,
		Model:        v.Model,
		Trim:         v.Trim,
		Odometer:     v.Mileage,
		SellingPrice: v.Price,
		MSRP:         v.MSRP,
		Cost:         v.Cost,
		Status:       v.Status,
		Photos:       v.Images,
		Features:     v.Features,
	}
}

func fromQuoteAV(q *biz.Quote) avDesking {
	return avDesking{
		CustomerID:     q.LeadID,
		VehicleVIN:     q.VehicleID,
		SellingPrice:   q.VehiclePrice,
		DownPayment:    q.DownPayment,
		TradeAllowance: q.TradeInValue,
		FinanceRate:    q.FinanceRate,
		FinanceTerm:    q.FinanceTerm,
		MonthlyPayment: q.PaymentAmount,
		TotalPrice:     q.TotalPrice,
		Taxes:          q.Taxes,
		Fees:           q.Fees,
	}
}
