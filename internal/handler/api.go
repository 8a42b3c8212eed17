package handler

import (
	"github.com/pagedeck/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	pages     *service.PageService
	owners    *service.OwnershipService
	publisher *service.PublishService
	counters  service.CounterStore
	uploadDir string
	uploadURL string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB, counters service.CounterStore, invalidator service.CacheInvalidator, uploadDir, uploadURL string) *API {
	owners := service.NewOwnershipService(db)
	if counters == nil {
		counters = service.NewMemoryCounterStore()
	}

	return &API{
		db:        db,
		pages:     service.NewPageService(db, owners),
		owners:    owners,
		publisher: service.NewPublishService(db, owners, invalidator),
		counters:  counters,
		uploadDir: uploadDir,
		uploadURL: uploadURL,
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}
