package service

import (
	"github.com/google/uuid"

	"github.com/chin-flags/fixapp/internal/domain"
)

// checkID rejects an id that cannot name a row. Every primary key is a
// UUID, so a malformed id is a missing resource rather than a query error.
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.NewError(domain.ErrNotFound, kind+" not found: "+id)
	}
	return nil
}
