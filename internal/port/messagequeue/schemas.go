package messagequeue

import "encoding/json"

// EmailJob is the schema for jobs.emails messages.
type EmailJob struct {
	TenantID string            `json:"tenant_id,omitempty"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// DocumentKind selects the generator of a documents job.
type DocumentKind string

const (
	DocumentPDF   DocumentKind = "pdf"
	DocumentExcel DocumentKind = "excel"
)

// DocumentJob is the schema for jobs.documents messages.
type DocumentJob struct {
	TenantID     string       `json:"tenant_id"`
	Kind         DocumentKind `json:"kind"`
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	RequestedBy  string       `json:"requested_by"`
}

// NotificationJob is the schema for jobs.notifications messages.
type NotificationJob struct {
	TenantID string          `json:"tenant_id"`
	UserID   string          `json:"user_id"`
	Type     string          `json:"type"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// TenantInvalidatePayload is the schema for tenants.invalidate messages.
// An empty subdomain means every cached tenant.
type TenantInvalidatePayload struct {
	Subdomain string `json:"subdomain"`
	Origin    string `json:"origin"`
}

// RealtimeEnvelope is the schema for realtime.{tenantID} messages.
type RealtimeEnvelope struct {
	TenantID string          `json:"tenant_id"`
	Room     string          `json:"room"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	Origin   string          `json:"origin"`
	// Except names a connection that must not receive the event.
	Except string `json:"except,omitempty"`
}
