package domain

// TenantsTable is the table holding tenants themselves.
const TenantsTable = "tenants"

// TenantColumn is the column that scopes a record to a tenant.
const TenantColumn = "tenant_id"

// Schema is the persistence metadata of an entity kind.
type Schema struct {
	Table   string
	Columns []string
}

// IsTenant reports whether the schema describes the tenant entity itself.
func (s Schema) IsTenant() bool {
	return s.Table == TenantsTable
}

// Has reports whether the schema declares the column.
func (s Schema) Has(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// HasTenantColumn reports whether records of this kind are tenant-scoped.
func (s Schema) HasTenantColumn() bool {
	return s.Has(TenantColumn)
}

// Entity is a persisted record with schema metadata and a tenant reference.
// Entities without a tenant column return "" from OwnerTenant and ignore
// AssignTenant.
type Entity interface {
	EntitySchema() Schema
	OwnerTenant() string
	AssignTenant(id string)
}
