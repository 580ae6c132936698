// Package db selects the concrete store driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/insightgrid/insightgrid/internal/profile"
	"github.com/insightgrid/insightgrid/store"
	"github.com/insightgrid/insightgrid/store/db/postgres"
	"github.com/insightgrid/insightgrid/store/db/sqlite"
)

// NewDBDriver creates a new store driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported store driver %q", profile.Driver)
	}
}
