package biz

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConnectorNotFound is returned when no live connector is registered for a provider.
	ErrConnectorNotFound = errors.New("connector not available")
	// ErrUnknownProvider is returned by a ConnectorFactory for unsupported providers.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotConnected is returned by connectors used before Connect succeeded.
	ErrNotConnected = errors.New("not connected")
	// ErrNotSupported is returned for operations a provider does not implement.
	ErrNotSupported = errors.New("operation not supported by provider")
)

// Supported DMS providers.
const (
	ProviderAutovance   = "autovance"
	ProviderDealertrack = "dealertrack"
)

// ConnectorConfig describes how to reach one DMS provider.
type ConnectorConfig struct {
	Provider    string `json:"provider" validate:"required"`
	BaseURL     string `json:"baseUrl,omitempty" validate:"omitempty,url"`
	APIKey      string `json:"apiKey,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	DealerCode  string `json:"dealerCode,omitempty"`
	ProxyURL    string `json:"proxyUrl,omitempty" validate:"omitempty,url"`
	Environment string `json:"environment" validate:"omitempty,oneof=sandbox production"`
	Enabled     bool   `json:"enabled"`
}

// Vehicle is an inventory unit normalized across providers.
type Vehicle struct {
	VIN         string   `json:"vin,omitempty"`
	StockNumber string   `json:"stockNumber,omitempty"`
	Year        int      `json:"year"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Trim        string   `json:"trim,omitempty"`
	Mileage     *int     `json:"mileage,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	MSRP        *float64 `json:"msrp,omitempty"`
	Cost        *float64 `json:"cost,omitempty"`
	// Status is one of available, sold, pending, archived.
	Status   string   `json:"status"`
	Images   []string `json:"images,omitempty"`
	Features []string `json:"features,omitempty"`
}

// Lead is a sales prospect.
type Lead struct {
	ID              string                 `json:"id,omitempty"`
	ExternalID      string                 `json:"externalId,omitempty"`
	FirstName       string                 `json:"firstName"`
	LastName        string                 `json:"lastName"`
	Email           string                 `json:"email,omitempty"`
	Phone           string                 `json:"phone,omitempty"`
	Source          string                 `json:"source"`
	Status          string                 `json:"status"`
	VehicleInterest string                 `json:"vehicleInterest,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Quote is a desking worksheet or deal.
type Quote struct {
	ID            string   `json:"id,omitempty"`
	ExternalID    string   `json:"externalId,omitempty"`
	LeadID        string   `json:"leadId,omitempty"`
	VehicleID     string   `json:"vehicleId,omitempty"`
	VehiclePrice  float64  `json:"vehiclePrice"`
	DownPayment   *float64 `json:"downPayment,omitempty"`
	TradeInValue  *float64 `json:"tradeInValue,omitempty"`
	FinanceRate   *float64 `json:"financeRate,omitempty"`
	FinanceTerm   *int     `json:"financeTerm,omitempty"`
	PaymentAmount *float64 `json:"paymentAmount,omitempty"`
	TotalPrice    float64  `json:"totalPrice"`
	Taxes         *float64 `json:"taxes,omitempty"`
	Fees          *float64 `json:"fees,omitempty"`
}

// CreditApplication is a financing request.
type CreditApplication struct {
	ID              string                 `json:"id,omitempty"`
	ExternalID      string                 `json:"externalId,omitempty"`
	LeadID          string                 `json:"leadId,omitempty"`
	ApplicantData   map[string]interface{} `json:"applicantData"`
	CoApplicantData map[string]interface{} `json:"coApplicantData,omitempty"`
	EmploymentData  map[string]interface{} `json:"employmentData,omitempty"`
	// Status is one of draft, submitted, approved, declined.
	Status      string `json:"status"`
	SoftPull    bool   `json:"softPull"`
	CreditScore *int   `json:"creditScore,omitempty"`
}

// SyncResult summarizes an inventory sync.
type SyncResult struct {
	Success        bool      `json:"success"`
	RecordsCreated int       `json:"recordsCreated"`
	RecordsUpdated int       `json:"recordsUpdated"`
	RecordsFailed  int       `json:"recordsFailed"`
	Errors         []string  `json:"errors,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// DMSConnector is implemented by every provider adapter.
// Lookups that find nothing return a nil value and a nil error.
type DMSConnector interface {
	Connect(ctx context.Context, cfg *ConnectorConfig) (bool, error)
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) (bool, error)

	SyncVehicles(ctx context.Context) (*SyncResult, error)
	GetVehicle(ctx context.Context, vin string) (*Vehicle, error)
	UpdateVehicle(ctx context.Context, vin string, v *Vehicle) error

	CreateLead(ctx context.Context, lead *Lead) (string, error)
	UpdateLead(ctx context.Context, id string, lead *Lead) error
	GetLead(ctx context.Context, id string) (*Lead, error)

	CreateQuote(ctx context.Context, quote *Quote) (string, error)
	GetQuote(ctx context.Context, id string) (*Quote, error)
	UpdateQuote(ctx context.Context, id string, quote *Quote) error

	SubmitCreditApp(ctx context.Context, app *CreditApplication) (string, error)
	GetCreditAppStatus(ctx context.Context, id string) (string, error)
}

// ConnectorFactory builds an unconnected DMSConnector for a provider.
type ConnectorFactory interface {
	Create(provider string) (DMSConnector, error)
}

// IntegrationRepo loads connector configurations stored per organization.
type IntegrationRepo interface {
	ListActiveIntegrations(ctx context.Context, organizationID string) ([]*ConnectorConfig, error)
}

// ConnectorStatus is the health snapshot of one live connector.
type ConnectorStatus struct {
	Provider         string       `json:"provider"`
	Connected        bool         `json:"connected"`
	CircuitState     BreakerState `json:"circuitState"`
	QueuedOperations int          `json:"queuedOperations"`
	LastSync         *time.Time   `json:"lastSync,omitempty"`
	Error            string       `json:"error,omitempty"`
}
