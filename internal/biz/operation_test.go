package biz

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDecodeOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		payload string
		want    Operation
	}{
		{
			name: "sync_vehicles_without_payload",
			op:   "syncVehicles",
			want: SyncVehiclesOp{},
		},
		{
			name:    "create_lead",
			op:      "createLead",
			payload: `{"firstName":"Ada","lastName":"Lovelace","source":"web","status":"new"}`,
			want:    CreateLeadOp{Lead: Lead{FirstName: "Ada", LastName: "Lovelace", Source: "web", Status: "new"}},
		},
		{
			name:    "update_lead",
			op:      "updateLead",
			payload: `{"id":"L-1","data":{"firstName":"Ada","status":"contacted"}}`,
			want:    UpdateLeadOp{ID: "L-1", Data: Lead{FirstName: "Ada", Status: "contacted"}},
		},
		{
			name:    "create_quote",
			op:      "createQuote",
			payload: `{"leadId":"L-1","vehicleId":"1HGCM82633A004352","vehiclePrice":21000,"totalPrice":23500}`,
			want:    CreateQuoteOp{Quote: Quote{LeadID: "L-1", VehicleID: "1HGCM82633A004352", VehiclePrice: 21000, TotalPrice: 23500}},
		},
		{
			name:    "submit_credit_app",
			op:      "submitCreditApp",
			payload: `{"applicantData":{"name":"Ada"},"status":"submitted","softPull":true}`,
			want: SubmitCreditAppOp{CreditApplication: CreditApplication{
				ApplicantData: map[string]interface{}{"name": "Ada"},
				Status:        "submitted",
				SoftPull:      true,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload json.RawMessage
			if tt.payload != "" {
				payload = json.RawMessage(tt.payload)
			}

			got, err := DecodeOperation(tt.op, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, OperationKind(tt.op), got.Kind())
		})
	}
}

func TestDecodeOperation_Errors(t *testing.T) {
	_, err := DecodeOperation("deleteEverything", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownOperation)

	_, err = DecodeOperation("createLead", nil)
	assert.Error(t, err)

	_, err = DecodeOperation("createLead", json.RawMessage(`null`))
	assert.Error(t, err)

	_, err = DecodeOperation("createQuote", json.RawMessage(`{"vehiclePrice":"cheap"}`))
	assert.Error(t, err)
}

func TestOperation_RoundTripThroughQueuePayload(t *testing.T) {
	op := UpdateLeadOp{ID: "L-9", Data: Lead{FirstName: "Grace", Status: "won"}}

	raw, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"L-9","data":{"firstName":"Grace","lastName":"","source":"","status":"won"}}`, string(raw))

	decoded, err := DecodeOperation(string(op.Kind()), raw)
	require.NoError(t, err)
	assert.Equal(t, op, decoded)
}

func TestOperation_Apply(t *testing.T) {
	ctx := context.Background()
	conn := new(MockDMSConnector)

	conn.On("CreateLead", ctx, &Lead{FirstName: "Ada"}).Return("L-1", nil).Once()
	conn.On("UpdateLead", ctx, "L-1", &Lead{Status: "won"}).Return(nil).Once()
	conn.On("CreateQuote", ctx, mock.AnythingOfType("*biz.Quote")).Return("Q-1", nil).Once()
	conn.On("SubmitCreditApp", ctx, mock.AnythingOfType("*biz.CreditApplication")).Return("CA-1", nil).Once()
	conn.On("SyncVehicles", ctx).Return(&SyncResult{Success: true, RecordsCreated: 2}, nil).Once()

	got, err := CreateLeadOp{Lead: Lead{FirstName: "Ada"}}.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "L-1", got)

	got, err = UpdateLeadOp{ID: "L-1", Data: Lead{Status: "won"}}.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "L-1", got)

	got, err = CreateQuoteOp{Quote: Quote{VehiclePrice: 1}}.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "Q-1", got)

	got, err = SubmitCreditAppOp{}.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "CA-1", got)

	got, err = SyncVehiclesOp{}.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, got.(*SyncResult).RecordsCreated)

	_, err = UpdateLeadOp{Data: Lead{Status: "won"}}.Apply(ctx, conn)
	assert.Error(t, err, "update without id is rejected before reaching the connector")

	conn.AssertExpectations(t)
}
