package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/messenger"
)

// Defaults for the pipeline shape. The initial page is what the client sees
// immediately; everything beyond it loads in the background.
const (
	DefaultInitialPage        = 50
	DefaultBatchSize          = 20
	DefaultRecentWindow       = 10
	DefaultAvatarWorkers      = 5
	DefaultAvatarFetchTimeout = 5 * time.Second
	DefaultAvatarPhaseTimeout = 10 * time.Second
)

// Gateway is the slice of the gateway handle the pipeline consumes.
type Gateway interface {
	ListConversations(ctx context.Context) ([]messenger.Chat, error)
	FetchRecentMessages(ctx context.Context, chatID string, limit int, beforeTimestamp int64) ([]messenger.Message, error)
	FetchAvatar(ctx context.Context, chatID string) (string, error)
}

// Cache is the conversation cache the pipeline populates.
type Cache interface {
	Replace(list []domain.ConversationSummary)
	Merge(batch []domain.ConversationSummary)
	Snapshot() []domain.ConversationSummary
}

// Events receives list and progress pushes as the pipeline advances.
type Events interface {
	PublishChats(tenantID string, chats []domain.ConversationSummary)
	PublishProgress(tenantID string, p domain.SyncProgress)
}

// Stats receives pipeline counters. Optional; a nil Stats is a no-op.
type Stats interface {
	SyncRun(status string, seconds float64)
	AvatarFetch(success bool)
}

// Config tunes the pipeline. Zero values take the package defaults.
type Config struct {
	InitialPage        int
	BatchSize          int
	RecentWindow       int
	AvatarWorkers      int
	AvatarFetchTimeout time.Duration
	AvatarPhaseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialPage <= 0 {
		c.InitialPage = DefaultInitialPage
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = DefaultRecentWindow
	}
	if c.AvatarWorkers <= 0 {
		c.AvatarWorkers = DefaultAvatarWorkers
	}
	if c.AvatarFetchTimeout <= 0 {
		c.AvatarFetchTimeout = DefaultAvatarFetchTimeout
	}
	if c.AvatarPhaseTimeout <= 0 {
		c.AvatarPhaseTimeout = DefaultAvatarPhaseTimeout
	}
	return c
}

// Pipeline loads one tenant's conversation list into the cache.
type Pipeline struct {
	tenantID string
	gw       Gateway
	cache    Cache
	events   Events
	cfg      Config
	stats    Stats
	logger   *slog.Logger

	// wg tracks the background enrichment goroutine. Wait is a test hook.
	wg sync.WaitGroup
}

// New creates a pipeline for one tenant's connection.
func New(tenantID string, gw Gateway, cache Cache, events Events, cfg Config, stats Stats, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		tenantID: tenantID,
		gw:       gw,
		cache:    cache,
		events:   events,
		cfg:      cfg.withDefaults(),
		stats:    stats,
		logger:   logger.With(slog.String("tenant_id", tenantID)),
	}
}

// Run executes phase 1 synchronously and launches phase 2 in the
// background. The returned error covers phase 1 only; phase 2 failures
// degrade data completeness but never abort the sync.
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()
	p.events.PublishProgress(p.tenantID, domain.SyncProgress{
		Status:  domain.SyncFetching,
		Message: "fetching conversation list",
	})

	chats, err := p.gw.ListConversations(ctx)
	if err != nil {
		p.recordRun("failure", started)
		return fmt.Errorf("listing conversations: %w", err)
	}

	valid := make([]messenger.Chat, 0, len(chats))
	for _, c := range chats {
		if messenger.IsListableChat(c) {
			valid = append(valid, c)
		}
	}
	total := len(valid)

	p.events.PublishProgress(p.tenantID, domain.SyncProgress{
		Status:  domain.SyncProcessing,
		Total:   total,
		Message: fmt.Sprintf("processing %d conversations", total),
	})

	// Phase 1: minimal summaries for the first page, no per-chat calls.
	pageSize := min(p.cfg.InitialPage, total)
	initial := make([]domain.ConversationSummary, 0, pageSize)
	for _, c := range valid[:pageSize] {
		initial = append(initial, minimalSummary(c))
	}
	p.cache.Replace(initial)
	p.events.PublishChats(p.tenantID, p.cache.Snapshot())
	p.events.PublishProgress(p.tenantID, domain.SyncProgress{
		Status:     domain.SyncInitialLoaded,
		Loaded:     pageSize,
		Total:      total,
		Percentage: percentage(pageSize, total),
	})

	p.recordRun("success", started)
	p.logger.Info("initial conversation page loaded",
		slog.Int("page", pageSize),
		slog.Int("total", total),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.enrich(ctx, valid, pageSize)
	}()
	return nil
}

// Wait blocks until background enrichment finishes. Test hook; production
// callers never await phase 2.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// enrich is phase 2: previews and avatars for the initial page (avatar
// sub-phase bounded by an outer timeout so it can never stall the
// perceived-complete signal), then the remaining conversations in strictly
// sequential batches.
func (p *Pipeline) enrich(ctx context.Context, valid []messenger.Chat, pageSize int) {
	total := len(valid)
	started := time.Now()

	// Enrich the phase-1 page first: it is what the user is looking at.
	page := valid[:pageSize]
	enriched := p.enrichBatch(ctx, page, true)
	p.cache.Merge(enriched)
	p.publishBatch(pageSize, total)

	loaded := pageSize
	for start := pageSize; start < total; start += p.cfg.BatchSize {
		if ctx.Err() != nil {
			p.logger.Debug("chat sync cancelled", slog.Int("loaded", loaded))
			return
		}
		end := min(start+p.cfg.BatchSize, total)
		batch := p.enrichBatch(ctx, valid[start:end], false)
		p.cache.Merge(batch)
		loaded = end
		p.publishBatch(loaded, total)
	}

	p.events.PublishProgress(p.tenantID, domain.SyncProgress{
		Status:     domain.SyncCompleted,
		Loaded:     total,
		Total:      total,
		Percentage: 100,
		Message:    "all conversations loaded",
	})
	p.logger.Info("conversation sync completed",
		slog.Int("total", total),
		slog.String("took", time.Since(started).Round(time.Millisecond).String()),
	)
}

func (p *Pipeline) publishBatch(loaded, total int) {
	p.events.PublishChats(p.tenantID, p.cache.Snapshot())
	p.events.PublishProgress(p.tenantID, domain.SyncProgress{
		Status:     domain.SyncLoading,
		Loaded:     loaded,
		Total:      total,
		Percentage: percentage(loaded, total),
	})
}

// enrichBatch builds enriched summaries for one batch: a recent-message
// window per chat for preview/timestamp, then avatars through the bounded
// worker pool. Per-chat failures are absorbed; the chat keeps whatever
// partial data was obtained.
func (p *Pipeline) enrichBatch(ctx context.Context, chats []messenger.Chat, initialPage bool) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, len(chats))
	for i, c := range chats {
		s := minimalSummary(c)
		msgs, err := p.gw.FetchRecentMessages(ctx, c.ID, p.cfg.RecentWindow, 0)
		if err != nil {
			p.logger.Warn("fetching recent messages failed, keeping partial data",
				slog.String("chat_id", c.ID),
				slog.String("error", err.Error()),
			)
		} else if m := preview(msgs); m != nil {
			s.LastMessagePreview = messenger.TruncatePreview(m.Body)
			s.LastMessageTimestamp = m.Timestamp
		}
		out[i] = s
	}

	avatarCtx := ctx
	if initialPage {
		// The initial page's avatar sub-phase must never delay completion.
		var cancel context.CancelFunc
		avatarCtx, cancel = context.WithTimeout(ctx, p.cfg.AvatarPhaseTimeout)
		defer cancel()
	}
	p.fetchAvatars(avatarCtx, out)
	return out
}

// fetchAvatars fills AvatarURL on each summary with at most AvatarWorkers
// concurrent fetches. Timeouts and errors leave the field empty.
func (p *Pipeline) fetchAvatars(ctx context.Context, batch []domain.ConversationSummary) {
	sem := make(chan struct{}, p.cfg.AvatarWorkers)
	var wg sync.WaitGroup

	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(s *domain.ConversationSummary) {
			defer wg.Done()
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.AvatarFetchTimeout)
			defer cancel()
			url, err := p.gw.FetchAvatar(fetchCtx, s.ID)
			if err != nil {
				p.recordAvatar(false)
				p.logger.Debug("avatar fetch failed",
					slog.String("chat_id", s.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			p.recordAvatar(true)
			s.AvatarURL = url
		}(&batch[i])
	}
	wg.Wait()
}

func (p *Pipeline) recordRun(status string, started time.Time) {
	if p.stats != nil {
		p.stats.SyncRun(status, time.Since(started).Seconds())
	}
}

func (p *Pipeline) recordAvatar(success bool) {
	if p.stats != nil {
		p.stats.AvatarFetch(success)
	}
}

func minimalSummary(c messenger.Chat) domain.ConversationSummary {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return domain.ConversationSummary{
		ID:                   c.ID,
		DisplayName:          name,
		UnreadCount:          c.UnreadCount,
		IsGroup:              c.IsGroup,
		LastMessageTimestamp: c.Timestamp,
	}
}

func percentage(loaded, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(loaded) / float64(total) * 100
}
