package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/localcity-market/messaging/internal/model"
)

// UserDirectory reads users owned by the surrounding application.
type UserDirectory struct {
	db *gorm.DB
}

// NewUserDirectory creates a user directory backed by the users table.
func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// Lookup returns the users with the given ids keyed by id. Unknown ids are
// absent from the result.
func (d *UserDirectory) Lookup(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []model.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to look up users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
