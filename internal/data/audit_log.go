package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ConnectorLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const auditBufferSize = 1000

// ConnectorAuditLog is the GORM model for the connector_audit_logs table.
type ConnectorAuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Target    string    `gorm:"column:target;type:varchar(100);not null"`
	Details   string    `gorm:"column:details;type:json"`
	Operator  string    `gorm:"column:operator;type:varchar(100);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (ConnectorAuditLog) TableName() string {
	return "connector_audit_logs"
}

// AuditLogger implements biz.AuditLogger. Events are written by a background
// goroutine; a full buffer drops the event with a warning. Without a database
// events are only logged.
type AuditLogger struct {
	db     *gorm.DB
	logger *log.Helper

	mu      sync.RWMutex
	closed  bool
	logChan chan *ConnectorAuditLog
	done    chan struct{}
}

// NewAuditLogger creates the audit logger and starts its writer. The cleanup
// function flushes buffered events.
func NewAuditLogger(db *gorm.DB, logger log.Logger) (*AuditLogger, func()) {
	a := &AuditLogger{
		db:      db,
		logger:  log.NewHelper(logger),
		logChan: make(chan *ConnectorAuditLog, auditBufferSize),
		done:    make(chan struct{}),
	}

	go a.start()

	return a, a.Close
}

func (a *AuditLogger) start() {
	defer close(a.done)

	for event := range a.logChan {
		if a.db == nil {
			continue
		}
		if err := a.db.WithContext(context.Background()).Create(event).Error; err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"event_type", event.EventType,
				"target", event.Target,
				"error", err)
			continue
		}
		a.logger.Debugw("msg", "audit log written",
			"event_type", event.EventType,
			"target", event.Target)
	}
}

// Close stops accepting events and waits until buffered ones are written.
func (a *AuditLogger) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.logChan)
	a.mu.Unlock()

	<-a.done
}

// LogCircuitStateChange logs an automatic breaker transition.
func (a *AuditLogger) LogCircuitStateChange(_ context.Context, breaker string, from, to biz.BreakerState) {
	var eventType biz.AuditEventType
	switch to {
	case biz.StateOpen:
		eventType = biz.AuditEventCircuitOpened
	case biz.StateHalfOpen:
		eventType = biz.AuditEventCircuitHalfOpened
	default:
		eventType = biz.AuditEventCircuitClosed
	}

	a.emit(eventType, breaker, "system", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// LogCircuitReset logs a manual reset. An empty breaker name means all breakers.
func (a *AuditLogger) LogCircuitReset(_ context.Context, breaker string, operator string) {
	if breaker == "" {
		a.emit(biz.AuditEventCircuitResetAll, "*", operator, nil)
		return
	}
	a.emit(biz.AuditEventCircuitReset, breaker, operator, nil)
}

// LogConnectorInitialized logs the outcome of a connector initialization.
func (a *AuditLogger) LogConnectorInitialized(_ context.Context, provider string, ok bool, reason string) {
	if ok {
		a.emit(biz.AuditEventConnectorConnected, provider, "system", nil)
		return
	}
	a.emit(biz.AuditEventConnectorFailed, provider, "system", map[string]interface{}{
		"reason": reason,
	})
}

// LogQueueMaintenance logs a manual queue action.
func (a *AuditLogger) LogQueueMaintenance(_ context.Context, action string, affected int, operator string) {
	a.emit(biz.AuditEventQueueMaintenance, "offline_queue", operator, map[string]interface{}{
		"action":   action,
		"affected": affected,
	})
}

func (a *AuditLogger) emit(eventType biz.AuditEventType, target, operator string, details map[string]interface{}) {
	event := &ConnectorAuditLog{
		EventType: eventType.String(),
		Target:    target,
		Operator:  operator,
	}
	if details != nil {
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
			return
		}
		event.Details = string(detailsJSON)
	}

	a.logger.Infow("msg", "audit event",
		"event_type", event.EventType,
		"target", target,
		"operator", operator,
		"details", event.Details)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"event_type", event.EventType,
			"target", target)
	}
}
