package service

import (
	"encoding/json"

	"ConnectorLane/internal/biz"
)

// StatusReply lists the status of every live connector.
type StatusReply struct {
	Connectors []biz.ConnectorStatus `json:"connectors"`
}

// TestConnectionsReply reports a connection test per registered config and
// the providers that currently hold a live connector.
type TestConnectionsReply struct {
	Results map[string]bool `json:"results"`
	Live    []string        `json:"live"`
}

// InitializeRequest carries the connector settings posted to
// /v1/connectors/{provider}/initialize. Enabled defaults to true.
type InitializeRequest struct {
	Provider    string `json:"-"`
	BaseURL     string `json:"baseUrl,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	DealerCode  string `json:"dealerCode,omitempty"`
	ProxyURL    string `json:"proxyUrl,omitempty"`
	Environment string `json:"environment,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

func (r *InitializeRequest) config() *biz.ConnectorConfig {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	env := r.Environment
	if env == "" {
		env = "production"
	}
	return &biz.ConnectorConfig{
		Provider:    r.Provider,
		BaseURL:     r.BaseURL,
		APIKey:      r.APIKey,
		Username:    r.Username,
		Password:    r.Password,
		DealerCode:  r.DealerCode,
		ProxyURL:    r.ProxyURL,
		Environment: env,
		Enabled:     enabled,
	}
}

// InitializeReply reports whether the connector is live.
type InitializeReply struct {
	Provider     string           `json:"provider"`
	Initialized  bool             `json:"initialized"`
	CircuitState biz.BreakerState `json:"circuitState"`
}

// DispatchRequest submits one typed operation.
type DispatchRequest struct {
	Provider       string          `json:"-"`
	IdempotencyKey string          `json:"-"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DispatchReply is the outcome of a submitted operation. Queued is set when
// no connector was live and the operation went to the offline queue.
type DispatchReply struct {
	Provider  string      `json:"provider"`
	Operation string      `json:"operation"`
	Queued    bool        `json:"queued"`
	Replayed  bool        `json:"replayed,omitempty"`
	Result    interface{} `json:"result,omitempty"`
}

// LoadIntegrationsRequest selects the organization whose integrations are loaded.
type LoadIntegrationsRequest struct {
	OrganizationID string `json:"-"`
}

// LoadIntegrationsReply reports how many integrations connected.
type LoadIntegrationsReply struct {
	OrganizationID string `json:"organizationId"`
	Initialized    int    `json:"initialized"`
}

// BreakersReply lists every breaker snapshot.
type BreakersReply struct {
	Breakers []biz.BreakerMetrics `json:"breakers"`
}

// ResetBreakerReply reports the outcome of a breaker reset.
type ResetBreakerReply struct {
	Provider string `json:"provider,omitempty"`
	Reset    int    `json:"reset"`
}

// ListQueueRequest optionally filters the queue by connector.
type ListQueueRequest struct {
	Connector string `json:"-"`
}

// QueueReply lists queued operations together with queue-wide counts.
type QueueReply struct {
	Operations []biz.QueuedOperation `json:"operations"`
	Stats      biz.QueueStats        `json:"stats"`
}

// QueueMaintenanceReply reports how many queue items a maintenance call touched.
type QueueMaintenanceReply struct {
	Affected int `json:"affected"`
}
