package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AnnouncementStore = (*AnnouncementRepo)(nil)

const announcementColumns = `id, slug, channel_id, sha, message, author, url, announced_at`

// AnnouncementRepo is the SQLite implementation of the AnnouncementStore port.
type AnnouncementRepo struct {
	db *DB
}

// NewAnnouncementRepo creates a new AnnouncementRepo.
func NewAnnouncementRepo(db *DB) *AnnouncementRepo {
	return &AnnouncementRepo{db: db}
}

// Record appends announcements in one transaction, preserving slice order.
func (r *AnnouncementRepo) Record(ctx context.Context, announcements []model.Announcement) error {
	if len(announcements) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		INSERT INTO announcements (slug, channel_id, sha, message, author, url, announced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert announcement: %w", err)
	}
	defer stmt.Close()

	for _, a := range announcements {
		_, err := stmt.ExecContext(ctx,
			a.Slug,
			a.ChannelID,
			a.SHA,
			a.Message,
			a.Author,
			a.URL,
			a.AnnouncedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert announcement %s for %s: %w", a.SHA, a.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit announcements: %w", err)
	}
	return nil
}

// ListRecent returns up to limit announcements across all targets, newest first.
func (r *AnnouncementRepo) ListRecent(ctx context.Context, limit int) ([]model.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements ORDER BY id DESC LIMIT ?`

	announcements, err := r.query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent announcements: %w", err)
	}
	return announcements, nil
}

// ListBySlug returns up to limit announcements for one target, newest first.
func (r *AnnouncementRepo) ListBySlug(ctx context.Context, slug string, limit int) ([]model.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements WHERE slug = ? ORDER BY id DESC LIMIT ?`

	announcements, err := r.query(ctx, query, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("list announcements for %s: %w", slug, err)
	}
	return announcements, nil
}

func (r *AnnouncementRepo) query(ctx context.Context, query string, args ...any) ([]model.Announcement, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var announcements []model.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		announcements = append(announcements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}

	return announcements, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(s scanner) (model.Announcement, error) {
	var (
		a           model.Announcement
		announcedAt string
	)

	err := s.Scan(&a.ID, &a.Slug, &a.ChannelID, &a.SHA, &a.Message, &a.Author, &a.URL, &announcedAt)
	if err != nil {
		return model.Announcement{}, fmt.Errorf("scan announcement: %w", err)
	}

	a.AnnouncedAt, err = parseTime(announcedAt)
	if err != nil {
		return model.Announcement{}, fmt.Errorf("parse announced_at: %w", err)
	}

	return a, nil
}

// parseTime accepts RFC 3339 as written by Record and the bare formats
// SQLite's own date functions produce.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
