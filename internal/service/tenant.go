package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/port/database"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
)

// TenantService manages tenant lifecycle. Every write invalidates the
// directory locally and, when a queue is attached, on every other instance.
type TenantService struct {
	store     database.Store
	directory *TenantDirectory
	queue     messagequeue.Queue
	instance  string
	log       *zap.Logger
}

// NewTenantService creates a new TenantService. queue may be nil.
func NewTenantService(store database.Store, directory *TenantDirectory, queue messagequeue.Queue, instance string, log *zap.Logger) *TenantService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TenantService{store: store, directory: directory, queue: queue, instance: instance, log: log}
}

// Create validates and creates a new tenant.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &tenant.Tenant{
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Status:    req.Status,
		Settings:  req.Settings,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant %s: %w", req.Subdomain, err)
	}

	s.invalidate(ctx, t.Subdomain)
	s.log.Info("tenant created", zap.String("tenant_id", t.ID), zap.String("subdomain", t.Subdomain))
	return t, nil
}

// Get returns a tenant by ID.
func (s *TenantService) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	if err := checkID("Tenant", id); err != nil {
		return nil, err
	}
	return s.store.GetTenant(ctx, id)
}

// GetBySubdomain returns a tenant by subdomain, bypassing the directory cache.
func (s *TenantService) GetBySubdomain(ctx context.Context, subdomain string) (*tenant.Tenant, error) {
	return s.store.GetTenantBySubdomain(ctx, tenant.NormalizeSubdomain(subdomain))
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.store.ListTenants(ctx)
}

// Update modifies the name and settings of an existing tenant.
func (s *TenantService) Update(ctx context.Context, id string, req tenant.UpdateRequest) (*tenant.Tenant, error) {
	if err := checkID("Tenant", id); err != nil {
		return nil, err
	}
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, domain.Validationf("name is required")
		}
		t.Name = *req.Name
	}
	if req.Settings != nil {
		t.Settings = req.Settings
	}
	if err := s.store.UpdateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("update tenant %s: %w", id, err)
	}
	s.invalidate(ctx, t.Subdomain)
	return t, nil
}

// SetStatus changes the status of a tenant. Deactivation takes effect on
// every instance once the invalidation is delivered, and on the rest after
// the directory TTL at the latest.
func (s *TenantService) SetStatus(ctx context.Context, id string, status tenant.Status) (*tenant.Tenant, error) {
	if !status.Valid() {
		return nil, domain.Validationf("invalid status %q", status)
	}
	if err := checkID("Tenant", id); err != nil {
		return nil, err
	}
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetTenantStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("set tenant status %s: %w", id, err)
	}
	t.Status = status
	s.invalidate(ctx, t.Subdomain)
	s.log.Info("tenant status changed", zap.String("tenant_id", id), zap.String("status", string(status)))
	return t, nil
}

// invalidate drops the local directory entry and tells other instances to do
// the same. An empty subdomain clears everything.
func (s *TenantService) invalidate(ctx context.Context, subdomain string) {
	if s.directory != nil {
		if subdomain == "" {
			s.directory.InvalidateAll(ctx)
		} else {
			s.directory.Invalidate(ctx, subdomain)
		}
	}
	if s.queue == nil {
		return
	}

	data, err := json.Marshal(messagequeue.TenantInvalidatePayload{Subdomain: subdomain, Origin: s.instance})
	if err != nil {
		s.log.Warn("encode tenant invalidation", zap.Error(err))
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTenantInvalidate, data); err != nil {
		s.log.Warn("publish tenant invalidation", zap.String("subdomain", subdomain), zap.Error(err))
	}
}
