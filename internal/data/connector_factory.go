package data

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ConnectorFactory implements biz.ConnectorFactory for the supported DMS providers.
type ConnectorFactory struct {
	conf      *conf.Connector
	collector metrics.Collector
	logger    log.Logger
}

// NewConnectorFactory creates a ConnectorFactory.
func NewConnectorFactory(c *conf.Connector, collector metrics.Collector, logger log.Logger) *ConnectorFactory {
	return &ConnectorFactory{conf: c, collector: collector, logger: logger}
}

// Create returns an unconnected connector for provider.
func (f *ConnectorFactory) Create(provider string) (biz.DMSConnector, error) {
	switch provider {
	case biz.ProviderAutovance:
		return NewAutovanceConnector(f.conf, f.collector, f.logger), nil
	case biz.ProviderDealertrack:
		return NewDealertrackConnector(f.conf, f.collector, f.logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", biz.ErrUnknownProvider, provider)
	}
}

// session holds the live client of a connector between Connect and Disconnect.
type session struct {
	mu     sync.RWMutex
	client *restClient
}

func (s *session) get() (*restClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, biz.ErrNotConnected
	}
	return s.client, nil
}

func (s *session) set(c *restClient) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// inventory remembers which VINs a connector has synced so repeated syncs
// report updates rather than creations.
type inventory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (inv *inventory) record(vehicles []biz.Vehicle) *biz.SyncResult {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.seen == nil {
		inv.seen = make(map[string]struct{})
	}

	res := &biz.SyncResult{Timestamp: time.Now()}
	for i, v := range vehicles {
		if v.VIN == "" {
			res.RecordsFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("vehicle %d (stock %q) has no VIN", i, v.StockNumber))
			continue
		}
		if _, ok := inv.seen[v.VIN]; ok {
			res.RecordsUpdated++
			continue
		}
		inv.seen[v.VIN] = struct{}{}
		res.RecordsCreated++
	}
	res.Success = res.RecordsFailed == 0 || res.RecordsCreated+res.RecordsUpdated > 0
	return res
}

func pathID(id string) string {
	return "/" + url.PathEscape(id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
