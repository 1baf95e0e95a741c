package tenant

import (
	"errors"
	"testing"

	"github.com/chin-flags/fixapp/internal/domain"
)

func TestCreateRequest_NormalizeDefaults(t *testing.T) {
	req := CreateRequest{Name: "  Acme  ", Subdomain: " ACME "}
	req.Normalize()

	if req.Name != "Acme" || req.Subdomain != "acme" {
		t.Fatalf("unexpected normalized values %q/%q", req.Name, req.Subdomain)
	}
	if req.Status != StatusActive {
		t.Fatalf("expected default status active, got %s", req.Status)
	}
	if req.Settings == nil {
		t.Fatal("expected empty settings map")
	}
}

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr bool
	}{
		{"valid", CreateRequest{Name: "Acme", Subdomain: "acme", Status: StatusActive}, false},
		{"missing name", CreateRequest{Subdomain: "acme", Status: StatusActive}, true},
		{"short subdomain", CreateRequest{Name: "A", Subdomain: "ab", Status: StatusActive}, true},
		{"leading hyphen", CreateRequest{Name: "A", Subdomain: "-acme", Status: StatusActive}, true},
		{"uppercase", CreateRequest{Name: "A", Subdomain: "Acme", Status: StatusActive}, true},
		{"reserved", CreateRequest{Name: "A", Subdomain: "www", Status: StatusActive}, true},
		{"bad status", CreateRequest{Name: "A", Subdomain: "acme", Status: "deleted"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTenantIsTenantSchema(t *testing.T) {
	tn := &Tenant{Status: StatusSuspended}
	if !tn.EntitySchema().IsTenant() {
		t.Fatal("tenant schema must identify the tenant entity")
	}
	if tn.Active() {
		t.Fatal("suspended tenant must not be active")
	}
}
