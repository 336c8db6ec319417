package models

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestOrder_Status(t *testing.T) {
	tests := []struct {
		name         string
		order        Order
		expectActive bool
		expectStatus string
	}{
		{
			name:         "Open",
			order:        Order{ID: 1},
			expectActive: true,
			expectStatus: StatusOpen,
		},
		{
			name:         "Filled",
			order:        Order{ID: 2, Filled: true},
			expectActive: false,
			expectStatus: StatusFilled,
		},
		{
			name:         "Cancelled",
			order:        Order{ID: 3, Cancelled: true},
			expectActive: false,
			expectStatus: StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.Active(); got != tt.expectActive {
				t.Errorf("expected active=%v, got %v", tt.expectActive, got)
			}
			if got := tt.order.Status(); got != tt.expectStatus {
				t.Errorf("expected status %q, got %q", tt.expectStatus, got)
			}
		})
	}
}

func TestEvent_JSON(t *testing.T) {
	order := Order{
		ID:              7,
		Maker:           common.HexToAddress("0x01"),
		OfferedAsset:    common.HexToAddress("0xa0"),
		OfferedAmount:   decimal.NewFromInt(100),
		RequestedAsset:  common.HexToAddress("0xb0"),
		RequestedAmount: decimal.NewFromInt(200),
	}

	created, err := json.Marshal(NewOrderCreated(order))
	if err != nil {
		t.Fatalf("marshal created: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(created, &fields); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	if fields["type"] != EventOrderCreated {
		t.Errorf("expected type %s, got %v", EventOrderCreated, fields["type"])
	}
	if fields["offered_amount"] != "100" || fields["requested_amount"] != "200" {
		t.Errorf("unexpected amounts: %v / %v", fields["offered_amount"], fields["requested_amount"])
	}
	if _, ok := fields["filler"]; ok {
		t.Errorf("creation event must not carry a filler")
	}

	filled, err := json.Marshal(NewOrderFilled(order, common.HexToAddress("0x02")))
	if err != nil {
		t.Fatalf("marshal filled: %v", err)
	}
	fields = nil
	if err := json.Unmarshal(filled, &fields); err != nil {
		t.Fatalf("unmarshal filled: %v", err)
	}
	if fields["filler"] != common.HexToAddress("0x02").Hex() {
		t.Errorf("expected filler %s, got %v", common.HexToAddress("0x02").Hex(), fields["filler"])
	}
	if _, ok := fields["offered_asset"]; ok {
		t.Errorf("fill event must not carry order terms")
	}
}
