package data

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Dealertrack API base URLs.
const (
	DealertrackProductionURL = "https://api.dealertrack.com/v1"
	DealertrackSandboxURL    = "https://sandbox.dealertrack.com/v1"
)

type dtVehicle struct {
	VIN         string   `json:"vin"`
	StockNumber string   `json:"stockNumber,omitempty"`
	Year        int      `json:"year"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Trim        string   `json:"trim,omitempty"`
	Mileage     *int     `json:"mileage,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	MSRP        *float64 `json:"msrp,omitempty"`
	Cost        *float64 `json:"cost,omitempty"`
	Status      string   `json:"status"`
	Images      []string `json:"images,omitempty"`
	Options     []string `json:"options,omitempty"`
}

type dtProspect struct {
	ID         string `json:"id,omitempty"`
	ProspectID string `json:"prospectId,omitempty"`
	DealerCode string `json:"dealerCode,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Source     string `json:"source,omitempty"`
	Status     string `json:"status,omitempty"`
}

type dtDeal struct {
	ID             string   `json:"id,omitempty"`
	DealID         string   `json:"dealId,omitempty"`
	DealerCode     string   `json:"dealerCode,omitempty"`
	ProspectID     string   `json:"prospectId,omitempty"`
	VehicleVIN     string   `json:"vehicleVin,omitempty"`
	SalePrice      float64  `json:"salePrice"`
	DownPayment    *float64 `json:"downPayment,omitempty"`
	TradeInValue   *float64 `json:"tradeInValue,omitempty"`
	APR            *float64 `json:"apr,omitempty"`
	Term           *int     `json:"term,omitempty"`
	MonthlyPayment *float64 `json:"monthlyPayment,omitempty"`
	TotalPrice     float64  `json:"totalPrice,omitempty"`
	Taxes          *float64 `json:"taxes,omitempty"`
	Fees           *float64 `json:"fees,omitempty"`
}

type dtConsent struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
}

type dtCreditApp struct {
	DealerCode         string                 `json:"dealerCode"`
	ProspectID         string                 `json:"prospectId,omitempty"`
	ApplicationType    string                 `json:"applicationType"`
	SoftPull           bool                   `json:"softPull"`
	PermissiblePurpose string                 `json:"permissiblePurpose"`
	Applicant          map[string]interface{} `json:"applicant"`
	CoApplicant        map[string]interface{} `json:"coApplicant,omitempty"`
	Employment         map[string]interface{} `json:"employment,omitempty"`
	Consent            dtConsent              `json:"consent"`
}

// DealertrackConnector talks to the Dealertrack REST API with Basic auth and
// the X-Dealer-Code header.
type DealertrackConnector struct {
	conf      *conf.Connector
	collector metrics.Collector
	logger    *log.Helper
	now       func() time.Time

	session
	inventory  inventory
	dealerCode string
}

// NewDealertrackConnector creates an unconnected DealertrackConnector.
func NewDealertrackConnector(c *conf.Connector, collector metrics.Collector, logger log.Logger) *DealertrackConnector {
	return &DealertrackConnector{
		conf:      c,
		collector: collector,
		logger:    log.NewHelper(log.With(logger, "provider", biz.ProviderDealertrack)),
		now:       time.Now,
	}
}

// Connect configures the client and tests the connection.
func (d *DealertrackConnector) Connect(ctx context.Context, cfg *biz.ConnectorConfig) (bool, error) {
	if cfg == nil || cfg.Username == "" || cfg.Password == "" || cfg.DealerCode == "" {
		d.logger.Errorw("msg", "Dealertrack credentials not configured")
		return false, nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DealertrackProductionURL
		if cfg.Environment == "sandbox" {
			baseURL = DealertrackSandboxURL
		}
	}

	token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	dealerCode := cfg.DealerCode
	client, err := newRestClient(biz.ProviderDealertrack, baseURL, cfg.ProxyURL, d.conf, func(req *http.Request) {
		req.Header.Set("Authorization", "Basic "+token)
		req.Header.Set("X-Dealer-Code", dealerCode)
	}, d.collector, d.logger)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	d.client = client
	d.dealerCode = dealerCode
	d.mu.Unlock()

	return d.TestConnection(ctx)
}

// Disconnect drops the client.
func (d *DealertrackConnector) Disconnect(_ context.Context) error {
	d.mu.Lock()
	d.client = nil
	d.dealerCode = ""
	d.mu.Unlock()
	return nil
}

// TestConnection calls /ping.
func (d *DealertrackConnector) TestConnection(ctx context.Context) (bool, error) {
	c, err := d.get()
	if err != nil {
		return false, err
	}
	if err := c.do(ctx, "testConnection", http.MethodGet, "/ping", nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DealertrackConnector) dealer() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dealerCode
}

// SyncVehicles pulls the full inventory.
func (d *DealertrackConnector) SyncVehicles(ctx context.Context) (*biz.SyncResult, error) {
	c, err := d.get()
	if err != nil {
		return nil, err
	}

	var raw []dtVehicle
	if err := c.do(ctx, "syncVehicles", http.MethodGet, "/inventory", nil, &raw); err != nil {
		return nil, err
	}

	vehicles := make([]biz.Vehicle, 0, len(raw))
	for _, v := range raw {
		vehicles = append(vehicles, v.toVehicle())
	}
	res := d.inventory.record(vehicles)

	d.logger.Infow("msg", "vehicle sync completed",
		"created", res.RecordsCreated,
		"updated", res.RecordsUpdated,
		"failed", res.RecordsFailed)
	return res, nil
}

// GetVehicle returns nil when the VIN is unknown.
func (d *DealertrackConnector) GetVehicle(ctx context.Context, vin string) (*biz.Vehicle, error) {
	c, err := d.get()
	if err != nil {
		return nil, err
	}
	var raw dtVehicle
	found, err := c.get(ctx, "getVehicle", "/inventory"+pathID(vin), &raw)
	if err != nil || !found {
		return nil, err
	}
	v := raw.toVehicle()
	return &v, nil
}

// UpdateVehicle replaces a vehicle record.
func (d *DealertrackConnector) UpdateVehicle(ctx context.Context, vin string, v *biz.Vehicle) error {
	c, err := d.get()
	if err != nil {
		return err
	}
	body := dtVehicle{
		VIN:         v.VIN,
		StockNumber: v.StockNumber,
		Year:        v.Year,
		Make:        v.Make,
		Model:       v.Model,
		Trim:        v.Trim,
		Mileage:     v.Mileage,
		Price:       v.Price,
		MSRP:        v.MSRP,
		Cost:        v.Cost,
		Status:      v.Status,
		Images:      v.Images,
		Options:     v.Features,
	}
	return c.do(ctx, "updateVehicle", http.MethodPut, "/inventory"+pathID(vin), body, nil)
}

// CreateLead creates a prospect and returns its prospect id.
func (d *DealertrackConnector) CreateLead(ctx context.Context, lead *biz.Lead) (string, error) {
	c, err := d.get()
	if err != nil {
		return "", err
	}
	body := dtProspect{
		DealerCode: d.dealer(),
		FirstName:  lead.FirstName,
		LastName:   lead.LastName,
		Email:      lead.Email,
		Phone:      lead.Phone,
		Source:     lead.Source,
	}
	var created dtProspect
	if err := c.do(ctx, "createLead", http.MethodPost, "/prospects", body, &created); err != nil {
		return "", err
	}
	if created.ProspectID == "" {
		return "", fmt.Errorf("dealertrack createLead: response has no prospectId")
	}
	return created.ProspectID, nil
}

// UpdateLead updates a prospect.
func (d *DealertrackConnector) UpdateLead(ctx context.Context, id string, lead *biz.Lead) error {
	c, err := d.get()
	if err != nil {
		return err
	}
	return c.do(ctx, "updateLead", http.MethodPut, "/prospects"+pathID(id), lead, nil)
}

// GetLead returns nil when the prospect is unknown.
func (d *DealertrackConnector) GetLead(ctx context.Context, id string) (*biz.Lead, error) {
	c, err := d.get()
	if err != nil {
		return nil, err
	}
	var raw dtProspect
	found, err := c.get(ctx, "getLead", "/prospects"+pathID(id), &raw)
	if err != nil || !found {
		return nil, err
	}
	return &biz.Lead{
		ID:         raw.ID,
		ExternalID: raw.ProspectID,
		FirstName:  raw.FirstName,
		LastName:   raw.LastName,
		Email:      raw.Email,
		Phone:      raw.Phone,
		Source:     firstNonEmpty(raw.Source, "unknown"),
		Status:     firstNonEmpty(raw.Status, "new"),
		Metadata: map[string]interface{}{
			"dealertrackId": raw.ProspectID,
		},
	}, nil
}

// CreateQuote creates a deal and returns its deal id.
func (d *DealertrackConnector) CreateQuote(ctx context.Context, quote *biz.Quote) (string, error) {
	c, err := d.get()
	if err != nil {
		return "", err
	}
	body := d.toDeal(quote)
	var created dtDeal
	if err := c.do(ctx, "createQuote", http.MethodPost, "/deals", body, &created); err != nil {
		return "", err
	}
	if created.DealID == "" {
		return "", fmt.Errorf("dealertrack createQuote: response has no dealId")
	}
	return created.DealID, nil
}

// GetQuote returns nil when the deal is unknown.
func (d *DealertrackConnector) GetQuote(ctx context.Context, id string) (*biz.Quote, error) {
	c, err := d.get()
	if err != nil {
		return nil, err
	}
	var raw dtDeal
	found, err := c.get(ctx, "getQuote", "/deals"+pathID(id), &raw)
	if err != nil || !found {
		return nil, err
	}
	return &biz.Quote{
		ID:            raw.ID,
		ExternalID:    raw.DealID,
		LeadID:        raw.ProspectID,
		VehicleID:     raw.VehicleVIN,
		VehiclePrice:  raw.SalePrice,
		DownPayment:   raw.DownPayment,
		TradeInValue:  raw.TradeInValue,
		FinanceRate:   raw.APR,
		FinanceTerm:   raw.Term,
		PaymentAmount: raw.MonthlyPayment,
		TotalPrice:    raw.TotalPrice,
		Taxes:         raw.Taxes,
		Fees:          raw.Fees,
	}, nil
}

// UpdateQuote updates a deal.
func (d *DealertrackConnector) UpdateQuote(ctx context.Context, id string, quote *biz.Quote) error {
	c, err := d.get()
	if err != nil {
		return err
	}
	return c.do(ctx, "updateQuote", http.MethodPut, "/deals"+pathID(id), d.toDeal(quote), nil)
}

// SubmitCreditApp submits a credit application and returns its application id.
func (d *DealertrackConnector) SubmitCreditApp(ctx context.Context, app *biz.CreditApplication) (string, error) {
	c, err := d.get()
	if err != nil {
		return "", err
	}

	appType := "individual"
	if len(app.CoApplicantData) > 0 {
		appType = "joint"
	}
	body := dtCreditApp{
		DealerCode:         d.dealer(),
		ProspectID:         app.LeadID,
		ApplicationType:    appType,
		SoftPull:           app.SoftPull,
		PermissiblePurpose: "CREDIT_EXTENSION",
		Applicant:          app.ApplicantData,
		CoApplicant:        app.CoApplicantData,
		Employment:         app.EmploymentData,
		Consent: dtConsent{
			Timestamp: d.now().UTC().Format(time.RFC3339),
			Method:    "electronic",
		},
	}

	var created struct {
		ApplicationID string `json:"applicationId"`
	}
	if err := c.do(ctx, "submitCreditApp", http.MethodPost, "/credit-applications", body, &created); err != nil {
		return "", err
	}
	if created.ApplicationID == "" {
		return "", fmt.Errorf("dealertrack submitCreditApp: response has no applicationId")
	}
	return created.ApplicationID, nil
}

// GetCreditAppStatus returns an empty status when the application is unknown.
func (d *DealertrackConnector) GetCreditAppStatus(ctx context.Context, id string) (string, error) {
	c, err := d.get()
	if err != nil {
		return "", err
	}
	var raw struct {
		Status string `json:"status"`
	}
	if _, err := c.get(ctx, "getCreditAppStatus", "/credit-applications"+pathID(id)+"/status", &raw); err != nil {
		return "", err
	}
	return raw.Status, nil
}

func (d *DealertrackConnector) toDeal(q *biz.Quote) dtDeal {
	return dtDeal{
		DealerCode:     d.dealer(),
		ProspectID:     q.LeadID,
		VehicleVIN:     q.VehicleID,
		SalePrice:      q.VehiclePrice,
		DownPayment:    q.DownPayment,
		TradeInValue:   q.TradeInValue,
		APR:            q.FinanceRate,
		Term:           q.FinanceTerm,
		MonthlyPayment: q.PaymentAmount,
		TotalPrice:     q.TotalPrice,
		Taxes:          q.Taxes,
		Fees:           q.Fees,
	}
}

func (v dtVehicle) toVehicle() biz.Vehicle {
	return biz.Vehicle{
		VIN:         v.VIN,
		StockNumber: v.StockNumber,
		Year:        v.Year,
		Make:        v.Make,
		Model:       v.Model,
		Trim:        v.Trim,
		Mileage:     v.Mileage,
		Price:       v.Price,
		MSRP:        v.MSRP,
		Cost:        v.Cost,
		Status:      v.Status,
		Images:      v.Images,
		Features:    v.Options,
	}
}
