package biz

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockDMSConnector is a mock implementation of DMSConnector for testing.
type MockDMSConnector struct {
	mock.Mock
}

func (m *MockDMSConnector) Connect(ctx context.Context, cfg *ConnectorConfig) (bool, error) {
	args := m.Called(ctx, cfg)
	return args.Bool(0), args.Error(1)
}

func (m *MockDMSConnector) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDMSConnector) TestConnection(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockDMSConnector) SyncVehicles(ctx context.Context) (*SyncResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*SyncResult)
	return res, args.Error(1)
}

func (m *MockDMSConnector) GetVehicle(ctx context.Context, vin string) (*Vehicle, error) {
	args := m.Called(ctx, vin)
	v, _ := args.Get(0).(*Vehicle)
	return v, args.Error(1)
}

func (m *MockDMSConnector) UpdateVehicle(ctx context.Context, vin string, v *Vehicle) error {
	args := m.Called(ctx, vin, v)
	return args.Error(0)
}

func (m *MockDMSConnector) CreateLead(ctx context.Context, lead *Lead) (string, error) {
	args := m.Called(ctx, lead)
	return args.String(0), args.Error(1)
}

func (m *MockDMSConnector) UpdateLead(ctx context.Context, id string, lead *Lead) error {
	args := m.Called(ctx, id, lead)
	return args.Error(0)
}

func (m *MockDMSConnector) GetLead(ctx context.Context, id string) (*Lead, error) {
	args := m.Called(ctx, id)
	l, _ := args.Get(0).(*Lead)
	return l, args.Error(1)
}

func (m *MockDMSConnector) CreateQuote(ctx context.Context, quote *Quote) (string, error) {
	args := m.Called(ctx, quote)
	return args.String(0), args.Error(1)
}

func (m *MockDMSConnector) GetQuote(ctx context.Context, id string) (*Quote, error) {
	args := m.Called(ctx, id)
	q, _ := args.Get(0).(*Quote)
	return q, args.Error(1)
}

func (m *MockDMSConnector) UpdateQuote(ctx context.Context, id string, quote *Quote) error {
	args := m.Called(ctx, id, quote)
	return args.Error(0)
}

func (m *MockDMSConnector) SubmitCreditApp(ctx context.Context, app *CreditApplication) (string, error) {
	args := m.Called(ctx, app)
	return args.String(0), args.Error(1)
}

func (m *MockDMSConnector) GetCreditAppStatus(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// MockConnectorFactory is a mock implementation of ConnectorFactory for testing.
type MockConnectorFactory struct {
	mock.Mock
}

func (m *MockConnectorFactory) Create(provider string) (DMSConnector, error) {
	args := m.Called(provider)
	c, _ := args.Get(0).(DMSConnector)
	return c, args.Error(1)
}

// MockIntegrationRepo is a mock implementation of IntegrationRepo for testing.
type MockIntegrationRepo struct {
	mock.Mock
}

func (m *MockIntegrationRepo) ListActiveIntegrations(ctx context.Context, organizationID string) ([]*ConnectorConfig, error) {
	args := m.Called(ctx, organizationID)
	cfgs, _ := args.Get(0).([]*ConnectorConfig)
	return cfgs, args.Error(1)
}
