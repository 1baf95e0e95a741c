// Package broadcast defines the port for emitting real-time events to
// tenant-scoped rooms. Every method takes the tenant explicitly; there is no
// primitive that reaches all tenants.
package broadcast

import "context"

// Emitter delivers events to connected realtime clients.
type Emitter interface {
	// EmitToRoom sends to tenant:{tenantID}:{resource}:{resourceID}.
	EmitToRoom(ctx context.Context, tenantID, resource, resourceID, event string, payload any) error
	// EmitToUser sends to tenant:{tenantID}:user:{userID}.
	EmitToUser(ctx context.Context, tenantID, userID, event string, payload any) error
	// EmitToTenant sends to every connection of tenant:{tenantID}.
	EmitToTenant(ctx context.Context, tenantID, event string, payload any) error
}
