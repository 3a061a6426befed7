package core_test

import (
	"testing"

	"facturador/internal/core"
)

func TestCreateOrderRequest_Validate(t *testing.T) {
	valid := core.CreateOrderRequest{
		TenantID:      1,
		PaymentMethod: core.PaymentCard,
		Items:         []core.OrderItemInput{{ProductID: 1, Quantity: 2}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*core.CreateOrderRequest)
	}{
		{"missing tenant", func(r *core.CreateOrderRequest) { r.TenantID = 0 }},
		{"no items", func(r *core.CreateOrderRequest) { r.Items = nil }},
		{"unknown payment method", func(r *core.CreateOrderRequest) { r.PaymentMethod = "bitcoin" }},
		{"zero quantity", func(r *core.CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative quantity", func(r *core.CreateOrderRequest) { r.Items[0].Quantity = -1 }},
		{"missing product id", func(r *core.CreateOrderRequest) { r.Items[0].ProductID = 0 }},
		{"duplicate product", func(r *core.CreateOrderRequest) {
			r.Items = append(r.Items, core.OrderItemInput{ProductID: 1, Quantity: 1})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := core.CreateOrderRequest{
				TenantID:      1,
				PaymentMethod: core.PaymentCard,
				Items:         []core.OrderItemInput{{ProductID: 1, Quantity: 2}},
			}
			tt.mutate(&req)
			if err := req.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}

	// Empty payment method is allowed; it defaults later.
	noMethod := core.CreateOrderRequest{
		TenantID: 1,
		Items:    []core.OrderItemInput{{ProductID: 1, Quantity: 1}},
	}
	if err := noMethod.Validate(); err != nil {
		t.Errorf("empty payment method should validate: %v", err)
	}
}
