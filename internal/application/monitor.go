// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// CycleResult summarises one poll cycle across all targets.
type CycleResult struct {
	CycleID   string
	Targets   int
	Announced int
	Failed    int
	Duration  time.Duration
}

// MonitorService polls every configured target, announces unseen commits and
// advances per-target watermarks.
type MonitorService struct {
	settings      model.MonitorSettings
	source        driven.CommitSource
	chat          driven.ChatClient
	watermarks    driven.WatermarkStore
	announcements driven.AnnouncementStore // nil disables the announcement log
	now           func() time.Time

	// cycleMu serialises poll cycles so scheduled and manual polls never
	// touch the same watermark at the same time.
	cycleMu sync.Mutex

	mu       sync.RWMutex
	state    model.MonitorState
	statuses map[string]model.TargetStatus
}

// NewMonitorService creates a new MonitorService with all required dependencies.
// announcements may be nil.
func NewMonitorService(
	settings model.MonitorSettings,
	source driven.CommitSource,
	chat driven.ChatClient,
	watermarks driven.WatermarkStore,
	announcements driven.AnnouncementStore,
) *MonitorService {
	return &MonitorService{
		settings:      settings,
		source:        source,
		chat:          chat,
		watermarks:    watermarks,
		announcements: announcements,
		now:           time.Now,
		state:         model.MonitorStateIdle,
		statuses:      make(map[string]model.TargetStatus, len(settings.Targets)),
	}
}

// Run primes watermarks, then polls on the configured interval until ctx is
// canceled. Cancellation is observed between cycles: a cycle already in
// flight finishes its fan-out first. On return the commit source's pooled
// connections are released.
func (s *MonitorService) Run(ctx context.Context) {
	defer s.stop()

	s.Initialize(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		s.cycle(ctx, model.MonitorStateSleeping)

		timer := time.NewTimer(s.settings.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Initialize fetches every target once and records the newest SHA as its
// watermark without announcing anything. A failed fetch leaves the watermark
// unset; the first poll cycle then seeds it instead.
func (s *MonitorService) Initialize(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.setState(model.MonitorStateInitializing)
	start := s.now()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		primed int
	)
	for _, target := range s.settings.Targets {
		g.Go(func() error {
			if s.primeTarget(ctx, target) {
				mu.Lock()
				primed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("watermarks initialized",
		"targets", len(s.settings.Targets),
		"primed", primed,
		"duration", s.now().Sub(start).Round(time.Millisecond),
	)
}

// PollNow runs one poll cycle immediately, bypassing the interval. The cycle
// is not canceled if ctx is; it always runs to completion.
func (s *MonitorService) PollNow(ctx context.Context) CycleResult {
	return s.cycle(ctx, "")
}

// State returns the current lifecycle state.
func (s *MonitorService) State() model.MonitorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Statuses returns the last poll status of every target in configuration
// order, with its current watermark.
func (s *MonitorService) Statuses() []model.TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watermarks := s.watermarks.Snapshot()

	out := make([]model.TargetStatus, 0, len(s.settings.Targets))
	for _, target := range s.settings.Targets {
		slug := target.Slug()
		status, ok := s.statuses[slug]
		if !ok {
			status = model.TargetStatus{Slug: slug, ChannelID: s.settings.ChannelFor(target)}
		}
		status.Watermark = watermarks[slug]
		out = append(out, status)
	}
	return out
}

// Targets returns the configured targets.
func (s *MonitorService) Targets() []model.RepositoryTarget {
	return s.settings.Targets
}

// cycle runs one fan-out across all targets and then moves to next. An empty
// next restores the state held before the cycle started.
func (s *MonitorService) cycle(ctx context.Context, next model.MonitorState) CycleResult {
	ctx = context.WithoutCancel(ctx)

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if next == "" {
		next = s.State()
	}
	s.setState(model.MonitorStatePolling)
	defer s.setState(next)

	cycleID := uuid.NewString()
	start := s.now()

	results := make([]model.TargetStatus, len(s.settings.Targets))

	var g errgroup.Group
	for i, target := range s.settings.Targets {
		g.Go(func() error {
			results[i] = s.pollTarget(ctx, cycleID, target)
			return nil
		})
	}
	_ = g.Wait()

	result := CycleResult{CycleID: cycleID, Targets: len(results)}

	s.mu.Lock()
	for _, status := range results {
		s.statuses[status.Slug] = status
		result.Announced += status.Announced
		if isFailure(status.Outcome) {
			result.Failed++
		}
	}
	s.mu.Unlock()

	result.Duration = s.now().Sub(start)

	slog.Info("poll cycle complete",
		"cycle", cycleID,
		"targets", result.Targets,
		"announced", result.Announced,
		"errors", result.Failed,
		"duration", result.Duration.Round(time.Millisecond),
	)

	return result
}

// primeTarget seeds one target's watermark. It reports whether a watermark
// was recorded.
func (s *MonitorService) primeTarget(ctx context.Context, target model.RepositoryTarget) (primed bool) {
	slug := target.Slug()

	defer func() {
		if v := recover(); v != nil {
			slog.Error("watermark initialization panicked",
				"repo", slug,
				"panic", v,
				"stack", string(debug.Stack()),
			)
			primed = false
		}
	}()

	commits, err := s.source.FetchRecentCommits(ctx, target.Owner, target.Name, target.Branch)
	if err != nil {
		logFetchFailure(slog.With("repo", slug), err)
		return false
	}
	if len(commits) == 0 {
		slog.Info("no commits to initialize from", "repo", slug)
		return false
	}

	s.watermarks.Set(slug, commits[0].SHA)
	slog.Info("watermark initialized", "repo", slug, "sha", commits[0].SHA)
	return true
}

// pollTarget is the full resolve → fetch → delta → deliver → advance sequence
// for one target. Nothing raised here escapes: errors and panics are logged
// and folded into the returned status.
func (s *MonitorService) pollTarget(ctx context.Context, cycleID string, target model.RepositoryTarget) (status model.TargetStatus) {
	slug := target.Slug()
	channelID := s.settings.ChannelFor(target)
	log := slog.With("cycle", cycleID, "repo", slug)

	status = model.TargetStatus{Slug: slug, ChannelID: channelID, LastPolledAt: s.now()}

	defer func() {
		if v := recover(); v != nil {
			log.Error("target poll panicked",
				"panic", v,
				"stack", string(debug.Stack()),
			)
			status.Outcome = model.PollOutcomePanicked
			status.LastError = fmt.Sprint(v)
			status.Announced = 0
		}
	}()

	channel, err := s.chat.ResolveChannel(ctx, channelID)
	if err != nil {
		log.Error("unable to resolve channel", "channel_id", channelID, "error", err)
		status.Outcome = model.PollOutcomeChannelFailed
		status.LastError = err.Error()
		return status
	}

	commits, err := s.source.FetchRecentCommits(ctx, target.Owner, target.Name, target.Branch)
	if err != nil {
		logFetchFailure(log, err)
		status.Outcome = model.PollOutcomeFetchFailed
		status.LastError = err.Error()
		return status
	}

	watermark, hasWatermark := s.watermarks.Get(slug)
	delta := ComputeDelta(commits, watermark, hasWatermark)

	switch {
	case delta.AdvanceWatermark && !delta.Announce:
		s.watermarks.Set(slug, delta.NewestSHA)
		log.Info("watermark seeded without announcing", "sha", delta.NewestSHA)
		status.Outcome = model.PollOutcomeSeeded
		return status

	case !delta.Announce:
		log.Debug("no new commits", "fetched", len(commits))
		status.Outcome = model.PollOutcomeUpToDate
		return status
	}

	if delta.WatermarkMissed {
		log.Warn("watermark not on fetched page, announcing whole page",
			"watermark", watermark,
			"page_size", len(commits),
		)
	}

	chunks := FormatAnnouncement(target, delta.NewCommits)
	for i, chunk := range chunks {
		if err := s.chat.SendMessage(ctx, channel, chunk); err != nil {
			log.Error("announcement delivery failed",
				"channel_id", channelID,
				"chunk", i+1,
				"chunks", len(chunks),
				"error", err,
			)
			status.Outcome = model.PollOutcomeDeliverFailed
			status.LastError = err.Error()
			return status
		}
	}

	s.watermarks.Set(slug, delta.NewestSHA)
	s.recordAnnouncements(ctx, log, slug, channelID, delta.NewCommits)

	log.Info("commits announced",
		"channel_id", channelID,
		"commits", len(delta.NewCommits),
		"chunks", len(chunks),
		"watermark", delta.NewestSHA,
	)

	status.Outcome = model.PollOutcomeAnnounced
	status.Announced = len(delta.NewCommits)
	return status
}

// recordAnnouncements appends delivered commits to the announcement log.
// Failures are logged only; the watermark has already advanced.
func (s *MonitorService) recordAnnouncements(ctx context.Context, log *slog.Logger, slug, channelID string, commits []model.CommitRecord) {
	if s.announcements == nil {
		return
	}

	announcedAt := s.now().UTC()
	records := make([]model.Announcement, 0, len(commits))
	for _, c := range commits {
		records = append(records, model.Announcement{
			Slug:        slug,
			ChannelID:   channelID,
			SHA:         c.SHA,
			Message:     c.MessageFirstLine,
			Author:      c.Author(),
			URL:         c.HTMLURL,
			AnnouncedAt: announcedAt,
		})
	}

	if err := s.announcements.Record(ctx, records); err != nil {
		log.Warn("recording announcements failed", "commits", len(records), "error", err)
	}
}

// stop moves to the terminal state and releases the commit source's pooled
// connections when it holds any.
func (s *MonitorService) stop() {
	s.setState(model.MonitorStateStopped)

	if closer, ok := s.source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Error("error closing commit source", "error", err)
		}
	}

	slog.Info("monitor stopped")
}

func (s *MonitorService) setState(state model.MonitorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// logFetchFailure logs a commit fetch failure at a level matching its kind.
func logFetchFailure(log *slog.Logger, err error) {
	var fetchErr *driven.FetchError
	if !errors.As(err, &fetchErr) {
		log.Error("commit fetch failed", "error", err)
		return
	}

	if fetchErr.Kind == driven.FailureRateLimited {
		if fetchErr.ResetIn > 0 {
			log.Warn("github rate limit exhausted", "reset_in", fetchErr.ResetIn)
		} else {
			log.Warn("github rate limit exhausted, reset time unknown")
		}
		return
	}

	log.Error("commit fetch failed",
		"kind", string(fetchErr.Kind),
		"status", fetchErr.StatusCode,
		"attempts", fetchErr.Attempts,
		"error", err,
	)
}

func isFailure(outcome model.PollOutcome) bool {
	switch outcome {
	case model.PollOutcomeFetchFailed,
		model.PollOutcomeChannelFailed,
		model.PollOutcomeDeliverFailed,
		model.PollOutcomePanicked:
		return true
	default:
		return false
	}
}
