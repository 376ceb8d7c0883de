package application_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/commitcast/internal/adapter/driven/memory"
	"github.com/ericfisherdev/commitcast/internal/application"
	"github.com/ericfisherdev/commitcast/internal/domain/model"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockCommitSource struct {
	fetch  func(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error)
	calls  atomic.Int32
	closed atomic.Bool
}

func (m *mockCommitSource) FetchRecentCommits(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error) {
	m.calls.Add(1)
	return m.fetch(ctx, owner, name, branch)
}

func (m *mockCommitSource) Close() error {
	m.closed.Store(true)
	return nil
}

type sentMessage struct {
	ChannelID string
	Text      string
}

type mockChat struct {
	mu      sync.Mutex
	sent    []sentMessage
	resolve func(channelID string) (model.Channel, error)
	send    func(channel model.Channel, text string) error
}

func (m *mockChat) ResolveChannel(_ context.Context, channelID string) (model.Channel, error) {
	if m.resolve != nil {
		return m.resolve(channelID)
	}
	return model.Channel{ID: channelID, Name: "general"}, nil
}

func (m *mockChat) SendMessage(_ context.Context, channel model.Channel, text string) error {
	if m.send != nil {
		if err := m.send(channel, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChannelID: channel.ID, Text: text})
	return nil
}

func (m *mockChat) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type mockAnnouncementStore struct {
	mu       sync.Mutex
	recorded []model.Announcement
}

func (m *mockAnnouncementStore) Record(_ context.Context, announcements []model.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, announcements...)
	return nil
}

func (m *mockAnnouncementStore) ListRecent(_ context.Context, _ int) ([]model.Announcement, error) {
	return nil, nil
}

func (m *mockAnnouncementStore) ListBySlug(_ context.Context, _ string, _ int) ([]model.Announcement, error) {
	return nil, nil
}

// pages serves a fixed newest-first page per repo name.
type pages struct {
	mu    sync.Mutex
	byKey map[string][]model.CommitRecord
}

func (p *pages) set(name string, commits []model.CommitRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[name] = commits
}

func (p *pages) fetch(_ context.Context, _, name, _ string) ([]model.CommitRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byKey[name], nil
}

func newPages() *pages {
	return &pages{byKey: make(map[string][]model.CommitRecord)}
}

var (
	targetA = model.RepositoryTarget{Owner: "octo", Name: "alpha", Branch: "main"}
	targetB = model.RepositoryTarget{Owner: "octo", Name: "beta", Branch: "dev", ChannelID: "222"}
)

func newSettings(targets ...model.RepositoryTarget) model.MonitorSettings {
	return model.MonitorSettings{
		PollInterval:     time.Hour,
		DefaultChannelID: "111",
		Targets:          targets,
	}
}

// --- Tests ---

func TestInitialize_PrimesWithoutAnnouncing(t *testing.T) {
	src := newPages()
	src.set("alpha", page(3))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())

	sha, ok := store.Get(targetA.Slug())
	require.True(t, ok)
	assert.Equal(t, "sha3", sha)
	assert.Empty(t, chat.messages())
}

func TestPollNow_FirstObservationSeedsWithoutSpam(t *testing.T) {
	var failInit atomic.Bool
	failInit.Store(true)

	src := newPages()
	src.set("alpha", page(10))
	source := &mockCommitSource{fetch: func(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error) {
		if failInit.Load() {
			return nil, &driven.FetchError{Kind: driven.FailureTransport, Err: errors.New("dial tcp: refused")}
		}
		return src.fetch(ctx, owner, name, branch)
	}}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())

	_, ok := store.Get(targetA.Slug())
	require.False(t, ok, "failed initialization must leave the watermark unset")

	failInit.Store(false)
	result := svc.PollNow(context.Background())

	assert.Equal(t, 0, result.Announced)
	assert.Empty(t, chat.messages())
	sha, ok := store.Get(targetA.Slug())
	require.True(t, ok)
	assert.Equal(t, "sha10", sha)

	statuses := svc.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, model.PollOutcomeSeeded, statuses[0].Outcome)
}

func TestPollNow_AnnouncesNewCommitsOldestFirst(t *testing.T) {
	src := newPages()
	src.set("alpha", page(3))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()
	log := &mockAnnouncementStore{}

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, log)
	svc.Initialize(context.Background())

	src.set("alpha", page(5))
	result := svc.PollNow(context.Background())

	assert.Equal(t, 2, result.Announced)
	assert.Zero(t, result.Failed)

	msgs := chat.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "111", msgs[0].ChannelID)
	text := msgs[0].Text
	assert.True(t, strings.HasPrefix(text, "New commits in **octo/alpha** on `main`:"))
	assert.Less(t, strings.Index(text, "commit 4"), strings.Index(text, "commit 5"))
	assert.NotContains(t, text, "commit 3")

	sha, _ := store.Get(targetA.Slug())
	assert.Equal(t, "sha5", sha)

	require.Len(t, log.recorded, 2)
	assert.Equal(t, "sha4", log.recorded[0].SHA)
	assert.Equal(t, "sha5", log.recorded[1].SHA)
	assert.Equal(t, targetA.Slug(), log.recorded[0].Slug)
}

func TestPollNow_IdempotentRepoll(t *testing.T) {
	src := newPages()
	src.set("alpha", page(4))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())

	svc.PollNow(context.Background())
	svc.PollNow(context.Background())

	assert.Empty(t, chat.messages())
	sha, _ := store.Get(targetA.Slug())
	assert.Equal(t, "sha4", sha)
	assert.Equal(t, model.PollOutcomeUpToDate, svc.Statuses()[0].Outcome)
}

func TestPollNow_PerTargetIsolation(t *testing.T) {
	src := newPages()
	src.set("beta", page(2))
	source := &mockCommitSource{fetch: func(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error) {
		if name == "alpha" {
			panic("unexpected nil page")
		}
		return src.fetch(ctx, owner, name, branch)
	}}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA, targetB), source, chat, store, nil)
	svc.Initialize(context.Background())

	src.set("beta", page(3))
	result := svc.PollNow(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Announced)

	msgs := chat.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "222", msgs[0].ChannelID)

	sha, _ := store.Get(targetB.Slug())
	assert.Equal(t, "sha3", sha)

	statuses := svc.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, model.PollOutcomePanicked, statuses[0].Outcome)
	assert.Equal(t, model.PollOutcomeAnnounced, statuses[1].Outcome)
	assert.Equal(t, "sha3", statuses[1].Watermark)
}

func TestPollNow_ChannelResolutionFailureSkipsTarget(t *testing.T) {
	src := newPages()
	src.set("alpha", page(1))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{resolve: func(channelID string) (model.Channel, error) {
		return model.Channel{}, driven.ErrChannelNotFound
	}}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())
	initCalls := source.calls.Load()

	src.set("alpha", page(2))
	result := svc.PollNow(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, initCalls, source.calls.Load(), "fetch must not run when the channel cannot be resolved")
	sha, _ := store.Get(targetA.Slug())
	assert.Equal(t, "sha1", sha)
	assert.Equal(t, model.PollOutcomeChannelFailed, svc.Statuses()[0].Outcome)
}

func TestPollNow_FetchFailureLeavesWatermark(t *testing.T) {
	var fail atomic.Bool
	src := newPages()
	src.set("alpha", page(2))
	source := &mockCommitSource{fetch: func(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error) {
		if fail.Load() {
			return nil, &driven.FetchError{Kind: driven.FailureRateLimited, ResetIn: time.Minute}
		}
		return src.fetch(ctx, owner, name, branch)
	}}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())

	fail.Store(true)
	result := svc.PollNow(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, chat.messages())
	sha, _ := store.Get(targetA.Slug())
	assert.Equal(t, "sha2", sha)

	status := svc.Statuses()[0]
	assert.Equal(t, model.PollOutcomeFetchFailed, status.Outcome)
	assert.Contains(t, status.LastError, "rate limited")
}

func TestPollNow_DeliveryFailureKeepsWatermark(t *testing.T) {
	src := newPages()
	src.set("alpha", page(1))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{send: func(model.Channel, string) error {
		return errors.New("missing permissions")
	}}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())

	src.set("alpha", page(3))
	result := svc.PollNow(context.Background())

	assert.Equal(t, 1, result.Failed)
	sha, _ := store.Get(targetA.Slug())
	assert.Equal(t, "sha1", sha, "undelivered commits are retried next cycle")
	assert.Equal(t, model.PollOutcomeDeliverFailed, svc.Statuses()[0].Outcome)
}

func TestPollNow_ChunksDeliveredInOrder(t *testing.T) {
	src := newPages()
	src.set("alpha", page(1))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)
	svc.Initialize(context.Background())

	big := page(10)
	for i := range big {
		big[i].MessageFirstLine = big[i].MessageFirstLine + " " + strings.Repeat("y", 500)
	}
	src.set("alpha", big)
	svc.PollNow(context.Background())

	msgs := chat.messages()
	require.Greater(t, len(msgs), 1)

	var joined []string
	for _, m := range msgs {
		assert.LessOrEqual(t, len([]rune(m.Text)), application.MaxChunkLen)
		joined = append(joined, m.Text)
	}
	all := strings.Join(joined, "\n")
	assert.NotContains(t, all, "commit 1 ")
	assert.Less(t, strings.Index(all, "commit 2 "), strings.Index(all, "commit 10 "))
	assert.GreaterOrEqual(t, strings.Index(all, "commit 2 "), 0)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "New commits in"))
}

func TestPollNow_SlowTargetDoesNotBlockOthers(t *testing.T) {
	betaSent := make(chan struct{})
	src := newPages()
	src.set("alpha", page(1))
	src.set("beta", page(1))

	var blockAlpha atomic.Bool
	source := &mockCommitSource{fetch: func(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error) {
		if name == "alpha" && blockAlpha.Load() {
			select {
			case <-betaSent:
			case <-time.After(5 * time.Second):
				return nil, &driven.FetchError{Kind: driven.FailureTransport, Err: errors.New("timed out waiting for beta")}
			}
		}
		return src.fetch(ctx, owner, name, branch)
	}}
	chat := &mockChat{send: func(channel model.Channel, _ string) error {
		if channel.ID == "222" {
			close(betaSent)
		}
		return nil
	}}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA, targetB), source, chat, store, nil)
	svc.Initialize(context.Background())

	blockAlpha.Store(true)
	src.set("beta", page(2))
	result := svc.PollNow(context.Background())

	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, result.Announced)
}

func TestRun_StopsOnCancelAndClosesSource(t *testing.T) {
	src := newPages()
	src.set("alpha", page(1))
	source := &mockCommitSource{fetch: src.fetch}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	settings := newSettings(targetA)
	settings.PollInterval = 10 * time.Millisecond
	svc := application.NewMonitorService(settings, source, chat, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return source.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, source.closed.Load())
	assert.Equal(t, model.MonitorStateStopped, svc.State())
}

func TestRun_CancelMidCycleStillDelivers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var fetchCtxErr atomic.Value

	var calls atomic.Int32
	source := &mockCommitSource{fetch: func(ctx context.Context, _, _, _ string) ([]model.CommitRecord, error) {
		if calls.Add(1) == 1 {
			return page(1), nil
		}
		close(entered)
		<-release
		fetchCtxErr.Store(fmt.Sprint(ctx.Err()))
		return page(3), nil
	}}
	chat := &mockChat{}
	store := memory.NewWatermarkStore()

	svc := application.NewMonitorService(newSettings(targetA), source, chat, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poll cycle never reached the fetch")
	}

	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, "<nil>", fetchCtxErr.Load())

	msgs := chat.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "commit 2")
	assert.Contains(t, msgs[0].Text, "commit 3")

	sha, ok := store.Get(targetA.Slug())
	require.True(t, ok)
	assert.Equal(t, "sha3", sha)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStatuses_BeforeFirstPoll(t *testing.T) {
	svc := application.NewMonitorService(newSettings(targetA, targetB), &mockCommitSource{}, &mockChat{}, memory.NewWatermarkStore(), nil)

	statuses := svc.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "111", statuses[0].ChannelID)
	assert.Equal(t, "222", statuses[1].ChannelID)
	assert.Empty(t, statuses[0].Outcome)
	assert.Equal(t, model.MonitorStateIdle, svc.State())
}
