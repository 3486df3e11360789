package converto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/nicoburkart/agent-converto/converto.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// rateLimiterPruneInterval is how often idle users are evicted from the
// rate limiter.
var rateLimiterPruneInterval = 5 * time.Minute

var structValidator = validator.New()

//nolint:gochecknoinits
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterCustomTypeFunc(
		validateRateLimitConfig,
		RateLimitConfig{},
	)
}

// Converto is the main application struct: it wires the Discord session,
// the per-user rate limiter, the message router, and the retrieval pipeline
// that answers questions from the Notion-backed knowledge base.
type Converto struct {
	config *Config
	router RouterConfig

	logger     *slog.Logger
	logHandler slog.Handler

	db      *database
	store   *ChunkStore
	openai  *OpenAI
	notion  *Notion
	discord *Discord

	// dispatcher answers queries. Normally the retrieval pipeline;
	// swappable for tests.
	dispatcher QueryDispatcher
	pipeline   *answerPipeline
	indexer    *Indexer

	rateLimiter *UserRateLimiter
	threads     *threadConversations
	api         *API

	paused            atomic.Bool
	queriesInProgress atomic.Int64
	syncInProgress    atomic.Bool

	startedAt time.Time

	// runMu prevents concurrent Run calls
	runMu sync.Mutex

	// signalReady receives a value once startup is complete
	signalReady chan struct{}
}

// New creates and initializes a new Converto instance from the given
// configuration. The database is opened and the Discord session started by
// [Converto.Run].
func New(config *Config) (*Converto, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}
	if !validPrefix(config.Discord.CommandPrefix) {
		errs = append(errs, errors.New("invalid command prefix"))
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	c := &Converto{
		config:      config,
		signalReady: make(chan struct{}, 1),
		rateLimiter: NewUserRateLimiter(config.RateLimit),
		threads:     newThreadConversations(config.Pipeline.ThreadHistoryLimit),
		router: RouterConfig{
			DedicatedChannelID: config.Discord.DedicatedChannelID,
			CommandPrefix:      config.Discord.CommandPrefix,
		},
	}

	c.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	c.openai = newOpenAI(config.OpenAI, config.HTTPClient)
	c.notion = newNotion(config.Notion, config.HTTPClient)

	config.Discord.httpClient = config.HTTPClient
	disc := newDiscord(config.Discord)
	disc.logger = newTintLogger(config.Discord.LogLevel, "discord")
	disc.bot = c
	c.discord = disc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if config.API.Enabled {
		c.api = newAPI(c, config.API)
	}

	return c, errors.Join(errs...)
}

// ValidateConfig validates the full configuration against its binding tags.
func (c *Converto) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

func (c *Converto) getLogger(ctx context.Context) (context.Context, *slog.Logger) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = c.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// initPipeline opens the database and wires the retrieval pipeline.
// Idempotent: used by both Run and the one-shot index command.
func (c *Converto) initPipeline(ctx context.Context) error {
	if c.db == nil {
		gormDB, err := CreateDB(
			WithLogger(ctx, c.logger.With(loggerNameKey, "database")),
			c.config.DatabaseType,
			c.config.Database,
		)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		gormDB.Logger = newGORMLogger(c.logHandler, c.config.DatabaseSlowThreshold)
		c.db = newDatabase(
			gormDB,
			c.logger,
			c.config.DatabaseType == dbTypePostgres,
		)
	}
	if c.store == nil {
		c.store = newChunkStore(c.db, c.logger)
	}
	if c.pipeline == nil {
		c.pipeline = newAnswerPipeline(c.openai, c.store, c.config.Pipeline, c.logger)
	}
	if c.dispatcher == nil {
		c.dispatcher = c.pipeline
	}
	if c.indexer == nil {
		c.indexer = newIndexer(c.notion, c.openai, c.store, c.config.Pipeline, c.logger)
	}
	return nil
}

// Run starts the bot and blocks until ctx is canceled, then shuts down
// gracefully.
func (c *Converto) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.startedAt = time.Now()
	logger := c.logger

	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	if err := c.initPipeline(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	runtimeWG := &sync.WaitGroup{}

	if c.api != nil {
		go func() {
			if httpErr := c.api.Serve(ctx); httpErr != nil &&
				!errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if err := c.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	if err := c.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}

	if _, err := c.RegisterSlashCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering slash commands", tint.Err(err))
		return err
	}

	if c.config.Discord.CustomStatus != "" {
		if err := c.discord.updateCustomStatus(c.config.Discord.CustomStatus); err != nil {
			logger.WarnContext(ctx, "error setting custom status", tint.Err(err))
		}
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		c.pruneRateLimiter(ctx)
	}()

	c.signalReady <- struct{}{}
	logger.InfoContext(
		ctx,
		"started",
		"version", Version,
		"dedicated_channel_id", c.config.Discord.DedicatedChannelID,
		"command_prefix", c.config.Discord.CommandPrefix,
	)

	<-ctx.Done()
	return c.shutdown(runtimeWG)
}

// RegisterSlashCommands registers the bot's slash commands with Discord.
func (c *Converto) RegisterSlashCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return c.discord.registerCommands(c.applicationCommands(), options...)
}

func (c *Converto) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	if c.discord.session == nil {
		session, err := c.discord.newSession()
		if err != nil {
			return err
		}
		c.discord.session = session
	}

	for _, remove := range c.discord.discordgoRemoveHandlerFuncs {
		remove()
	}

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					c.handleMessageCreate(ctx, m)
				}()
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					c.handleInteraction(ctx, i)
				}()
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
				c.handleThreadUpdate(ctx, t)
			},
		),
	}
	return nil
}

func (c *Converto) shutdown(runtimeWG *sync.WaitGroup) error {
	c.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		c.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if c.discord.session != nil {
		if err := c.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()
	select {
	case <-done:
		c.logger.Info("all handlers finished")
	case <-shutdownCtx.Done():
		c.logger.Warn("shutdown timeout elapsed before handlers finished")
	}

	if c.db != nil {
		if sqlDB, err := c.db.DB().DB(); err == nil {
			if e := sqlDB.Close(); e != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", e))
			}
		}
	}

	return errors.Join(errs...)
}

// pruneRateLimiter periodically evicts idle users from the rate limiter.
func (c *Converto) pruneRateLimiter(ctx context.Context) {
	ticker := time.NewTicker(rateLimiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.rateLimiter.Prune(); evicted > 0 {
				c.logger.Debug("pruned rate limiter", "evicted", evicted)
			}
		}
	}
}

// Pause stops the bot from handling new queries. Returns false if the bot
// was already paused.
func (c *Converto) Pause() bool {
	return c.paused.CompareAndSwap(false, true)
}

// Resume reverses Pause. Returns false if the bot wasn't paused.
func (c *Converto) Resume() bool {
	return c.paused.CompareAndSwap(true, false)
}

// handleMessageCreate is the controller for incoming Discord messages: it
// routes the message, enforces the per-user rate limit, dispatches the
// query, and replies.
//
// The rate-limit check-and-record happens synchronously before the first
// suspending call (the dispatcher), so two near-simultaneous messages from
// one user can't both slip under the limit.
func (c *Converto) handleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := c.getLogger(ctx)

	if m.Author == nil {
		return
	}
	if m.Author.Bot || m.Author.ID == c.config.Discord.ApplicationID {
		return
	}

	var source QuerySource
	var question string

	if c.threads.tracked(m.ChannelID) {
		source = QuerySourceThread
		question = strings.TrimSpace(m.Content)
	} else {
		classification := classifyMessage(m.ChannelID, m.Content, c.router)
		switch classification.Class {
		case MessageIgnore:
			return
		case MessageUsage:
			logger.InfoContext(
				ctx,
				"prefix with empty query, sending usage hint",
				"user_id", m.Author.ID,
			)
			if err := c.discord.channelMessageSend(
				m.ChannelID,
				c.config.Discord.UsageMessage,
			); err != nil {
				logger.ErrorContext(ctx, "error sending usage hint", tint.Err(err))
			}
			return
		case MessageQuery:
			question = strings.TrimSpace(classification.Query)
			source = QuerySourceCommandPrefix
			if m.ChannelID == c.router.DedicatedChannelID {
				source = QuerySourceDedicatedChannel
			}
		}
	}

	if question == "" {
		return
	}

	c.discord.metricMessagesHandled.Add(1)
	logger = logger.With(
		"user_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"source", string(source),
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received query", "question", question)

	if c.paused.Load() {
		logger.WarnContext(ctx, "paused, dropping query")
		return
	}

	user, created, err := c.db.GetOrCreateUser(ctx, *m.Author)
	if err != nil {
		logger.ErrorContext(ctx, "error loading user", tint.Err(err))
	}
	if created {
		logger.InfoContext(ctx, "new user", "user", user)
	}
	if user != nil && user.Ignored {
		logger.InfoContext(ctx, "ignoring user", "user", user)
		return
	}

	if !c.rateLimiter.Allow(m.Author.ID) {
		c.recordQuery(
			ctx, &QueryRecord{
				UserID:    m.Author.ID,
				ChannelID: m.ChannelID,
				Source:    source,
				Question:  question,
				State:     QueryStateRateLimited,
			},
		)
		if sendErr := c.discord.channelMessageSend(
			m.ChannelID,
			c.rateLimitMessage(),
		); sendErr != nil {
			logger.ErrorContext(ctx, "error sending rate-limit notice", tint.Err(sendErr))
		}
		return
	}

	c.queriesInProgress.Add(1)
	defer c.queriesInProgress.Add(-1)

	c.discord.channelTyping(m.ChannelID)

	record := &QueryRecord{
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Source:    source,
		Question:  question,
	}
	started := time.Now()

	var answer string
	if source == QuerySourceThread {
		answer, err = c.answerThreadQuery(ctx, m.ChannelID, question)
	} else {
		answer, err = c.dispatcher.Ask(ctx, question)
	}
	record.DurationMS = time.Since(started).Milliseconds()

	if err != nil {
		// the raw error is logged and stored, never sent to the channel
		logger.ErrorContext(ctx, "query failed", tint.Err(err))
		record.State = QueryStateFailed
		record.Error = err.Error()
		c.recordQuery(ctx, record)
		if sendErr := c.discord.channelMessageSend(
			m.ChannelID,
			c.config.Discord.ErrorMessage,
		); sendErr != nil {
			logger.ErrorContext(ctx, "error sending failure reply", tint.Err(sendErr))
		}
		return
	}

	record.State = QueryStateCompleted
	record.Answer = answer
	c.recordQuery(ctx, record)

	if sendErr := c.discord.sendLongMessage(m.ChannelID, answer); sendErr != nil {
		logger.ErrorContext(ctx, "error sending answer", tint.Err(sendErr))
		return
	}
	if source == QuerySourceThread {
		c.threads.appendHistory(m.ChannelID, threadRoleAssistant, answer)
	}
}

// answerThreadQuery answers a follow-up question in a /summary discussion
// thread, using the lesson content, the recent conversation, and related
// chunks from other lessons as context.
func (c *Converto) answerThreadQuery(
	ctx context.Context,
	threadID string,
	question string,
) (string, error) {
	course, lesson, content, ok := c.threads.lesson(threadID)
	if !ok {
		return c.dispatcher.Ask(ctx, question)
	}

	contextQuery := fmt.Sprintf("Regarding %s from %s: %s", lesson, course, question)
	history := c.threads.historyContext(threadID)
	c.threads.appendHistory(threadID, threadRoleUser, question)

	related, err := c.pipeline.SearchContext(ctx, contextQuery)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if history != "" {
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	if content != "" {
		fmt.Fprintf(&b, "Full lesson content:\n%s\n\n", content)
	}
	if related := relatedContext(related); related != "" {
		fmt.Fprintf(&b, "Related content from other lessons:\n%s", related)
	}

	return c.pipeline.Answer(ctx, contextQuery, b.String())
}

// handleThreadUpdate drops thread conversation state once a tracked
// discussion thread is archived.
func (c *Converto) handleThreadUpdate(
	ctx context.Context,
	t *discordgo.ThreadUpdate,
) {
	if t.ThreadMetadata == nil || !t.ThreadMetadata.Archived {
		return
	}
	if !c.threads.tracked(t.ID) {
		return
	}
	c.threads.forget(t.ID)
	c.logger.InfoContext(
		ctx,
		"cleaned up archived thread",
		"thread_id", t.ID,
	)
}

func (c *Converto) recordQuery(ctx context.Context, record *QueryRecord) {
	if err := c.db.Create(ctx, record); err != nil {
		c.logger.ErrorContext(ctx, "error saving query record", tint.Err(err))
	}
}

func (c *Converto) rateLimitMessage() string {
	return fmt.Sprintf(
		"Rate limit exceeded. Please wait %d seconds between requests.",
		int(c.rateLimiter.Window().Seconds()),
	)
}

// Index runs the Notion indexing pipeline once: extract un-indexed
// transcript pages, chunk, embed, store, and mark them indexed.
func (c *Converto) Index(ctx context.Context) (IndexReport, error) {
	if !c.syncInProgress.CompareAndSwap(false, true) {
		return IndexReport{}, errors.New("an indexing run is already in progress")
	}
	defer c.syncInProgress.Store(false)

	if err := c.initPipeline(ctx); err != nil {
		return IndexReport{}, err
	}
	return c.indexer.Sync(ctx)
}

// CheckStore returns the total number of stored chunks and a peek at up to
// limit of them, for inspection.
func (c *Converto) CheckStore(
	ctx context.Context,
	limit int,
) (int64, []KBChunk, error) {
	if err := c.initPipeline(ctx); err != nil {
		return 0, nil, err
	}
	count, err := c.store.Count(ctx)
	if err != nil {
		return 0, nil, err
	}
	chunks, err := c.store.Peek(ctx, limit)
	return count, chunks, err
}
