package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "Checkout",
			parameters: "job=app build=12",
		},
		{
			name:       "empty parameters",
			operation:  "Maintain",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters, now)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if op.ID != "20240615T143045.123Z" {
				t.Errorf("ID = %q, want %q", op.ID, "20240615T143045.123Z")
			}
		})
	}
}

func TestOperation_FailAndElapsed(t *testing.T) {
	start := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)
	op := NewOperation("Poll", "", start)
	op.Fail()

	if op.Status != "error" {
		t.Errorf("Status = %q, want error", op.Status)
	}
	if got := op.Elapsed(start.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Elapsed() = %v, want 90s", got)
	}
}
