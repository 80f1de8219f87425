package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownOperation is returned when an operation name is outside the supported set.
var ErrUnknownOperation = errors.New("unknown operation")

// OperationKind is the wire name of a replayable connector operation.
type OperationKind string

const (
	OpSyncVehicles    OperationKind = "syncVehicles"
	OpCreateLead      OperationKind = "createLead"
	OpUpdateLead      OperationKind = "updateLead"
	OpCreateQuote     OperationKind = "createQuote"
	OpSubmitCreditApp OperationKind = "submitCreditApp"
)

// Operation is a typed connector call that can be executed now or queued and
// replayed later. The set of implementations is closed.
type Operation interface {
	Kind() OperationKind
	Apply(ctx context.Context, c DMSConnector) (interface{}, error)
	isOperation()
}

// SyncVehiclesOp pulls the provider inventory.
type SyncVehiclesOp struct{}

// CreateLeadOp pushes a new lead. The payload is the lead itself.
type CreateLeadOp struct {
	Lead
}

// UpdateLeadOp patches an existing lead.
type UpdateLeadOp struct {
	ID   string `json:"id"`
	Data Lead   `json:"data"`
}

// CreateQuoteOp pushes a new quote. The payload is the quote itself.
type CreateQuoteOp struct {
	Quote
}

// SubmitCreditAppOp submits a credit application.
type SubmitCreditAppOp struct {
	CreditApplication
}

func (SyncVehiclesOp) Kind() OperationKind    { return OpSyncVehicles }
func (CreateLeadOp) Kind() OperationKind      { return OpCreateLead }
func (UpdateLeadOp) Kind() OperationKind      { return OpUpdateLead }
func (CreateQuoteOp) Kind() OperationKind     { return OpCreateQuote }
func (SubmitCreditAppOp) Kind() OperationKind { return OpSubmitCreditApp }

func (SyncVehiclesOp) isOperation()    {}
func (CreateLeadOp) isOperation()      {}
func (UpdateLeadOp) isOperation()      {}
func (CreateQuoteOp) isOperation()     {}
func (SubmitCreditAppOp) isOperation() {}

func (SyncVehiclesOp) Apply(ctx context.Context, c DMSConnector) (interface{}, error) {
	return c.SyncVehicles(ctx)
}

func (op CreateLeadOp) Apply(ctx context.Context, c DMSConnector) (interface{}, error) {
	lead := op.Lead
	return c.CreateLead(ctx, &lead)
}

func (op UpdateLeadOp) Apply(ctx context.Context, c DMSConnector) (interface{}, error) {
	if op.ID == "" {
		return nil, fmt.Errorf("%s: missing lead id", OpUpdateLead)
	}
	data := op.Data
	if err := c.UpdateLead(ctx, op.ID, &data); err != nil {
		return nil, err
	}
	return op.ID, nil
}

func (op CreateQuoteOp) Apply(ctx context.Context, c DMSConnector) (interface{}, error) {
	quote := op.Quote
	return c.CreateQuote(ctx, &quote)
}

func (op SubmitCreditAppOp) Apply(ctx context.Context, c DMSConnector) (interface{}, error) {
	app := op.CreditApplication
	return c.SubmitCreditApp(ctx, &app)
}

// DecodeOperation maps a queued or submitted operation onto its typed form.
// An empty payload is accepted for syncVehicles only.
func DecodeOperation(name string, payload json.RawMessage) (Operation, error) {
	var op Operation
	switch OperationKind(name) {
	case OpSyncVehicles:
		return SyncVehiclesOp{}, nil
	case OpCreateLead:
		op = &CreateLeadOp{}
	case OpUpdateLead:
		op = &UpdateLeadOp{}
	case OpCreateQuote:
		op = &CreateQuoteOp{}
	case OpSubmitCreditApp:
		op = &SubmitCreditAppOp{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	if len(payload) == 0 || string(payload) == "null" {
		return nil, fmt.Errorf("%s: empty payload", name)
	}
	if err := json.Unmarshal(payload, op); err != nil {
		return nil, fmt.Errorf("%s: decode payload: %w", name, err)
	}

	switch v := op.(type) {
	case *CreateLeadOp:
		return *v, nil
	case *UpdateLeadOp:
		return *v, nil
	case *CreateQuoteOp:
		return *v, nil
	case *SubmitCreditAppOp:
		return *v, nil
	}
	return op, nil
}
