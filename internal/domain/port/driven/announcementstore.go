package driven

import (
	"context"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// AnnouncementStore defines the driven port for the announcement log.
type AnnouncementStore interface {
	// Record appends announcements atomically.
	Record(ctx context.Context, announcements []model.Announcement) error
	// ListRecent returns up to limit announcements, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.Announcement, error)
	// ListBySlug returns up to limit announcements for one target, newest first.
	ListBySlug(ctx context.Context, slug string, limit int) ([]model.Announcement, error)
}
