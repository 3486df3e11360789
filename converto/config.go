//nolint:lll // struct tags can't be split
package converto

import (
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/bwmarrin/discordgo"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEnvPrefix       = "CONVERTO"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "converto.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultCommandPrefix is the literal prefix a message must start with to
	// be treated as a query outside the dedicated channel.
	DefaultCommandPrefix = "!ask"

	DefaultRateLimitWindow      = time.Minute
	DefaultRateLimitMaxRequests = 5

	DefaultOpenAIEmbeddingModel       = string(openai.SmallEmbedding3)
	DefaultOpenAICompletionModel      = openai.GPT3Dot5Turbo
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAITemperature          = 0.7
	DefaultOpenAIMaxTokens            = 500
	DefaultOpenAILogLevel             = slog.LevelInfo

	DefaultNotionTitleProperty   = "Name"
	DefaultNotionCourseProperty  = "Course"
	DefaultNotionIndexedProperty = "Indexed"
	DefaultNotionLogLevel        = slog.LevelInfo

	DefaultSearchResults      = 5
	DefaultChunkSize          = 500
	DefaultChunkOverlap       = 100
	DefaultEmbeddingBatchSize = 5
	DefaultEmbeddingRetries   = 3
	DefaultThreadHistoryLimit = 5

	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordErrorMessage   = "An error occurred while processing your request. Please try again later."
	DefaultDiscordUsageMessage   = "Please provide a question after the command prefix."
	DefaultDiscordCustomStatus   = "!ask me anything"
	DefaultDiscordStartupMessage = "I'm here!"

	// discordMaxMessageLength is the largest chunk of a reply sent as a
	// single Discord message. Discord's hard limit is 2000; some headroom
	// is left for markdown added around chunks.
	discordMaxMessageLength = 1900

	DefaultDiscordGatewayIntent = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPILogLevel       = slog.LevelInfo
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	// DefaultThreadArchiveDuration is the Discord thread auto-archive
	// duration, in minutes, used for /summary discussion threads.
	DefaultThreadArchiveDuration = 1440
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// RateLimit configures the per-user query rate limit
	RateLimit *RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// OpenAI holds the configuration for OpenAI integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Notion holds the configuration for the Notion knowledge base
	Notion *NotionConfig `yaml:"notion" mapstructure:"notion" json:"notion"`

	// Pipeline configures the retrieval and indexing pipelines
	Pipeline *PipelineConfig `yaml:"pipeline" mapstructure:"pipeline" json:"pipeline"`

	// API configures the operational API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

// RateLimitConfig configures the per-user sliding-window rate limit applied
// to incoming queries.
type RateLimitConfig struct {
	// Window is the trailing interval over which requests are counted
	Window time.Duration `yaml:"window" mapstructure:"window" json:"window"`

	// MaxRequests is the number of requests allowed per user within Window
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" json:"max_requests"`
}

func validateRateLimitConfig(field reflect.Value) any {
	if value, ok := field.Interface().(RateLimitConfig); ok {
		if value.Window <= 0 {
			return "window must be > 0"
		}
		if value.MaxRequests <= 0 {
			return "max_requests must be > 0"
		}
	}
	return nil
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// DedicatedChannelID is the channel where every message is treated as a
	// query, no prefix needed.
	DedicatedChannelID string `yaml:"dedicated_channel_id" mapstructure:"dedicated_channel_id" json:"dedicated_channel_id" binding:"required"`

	// CommandPrefix is the literal prefix used to ask questions from any
	// other channel. Matched case-insensitively.
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`

	// NotificationChannelID, if set, receives StartupMessage whenever the
	// bot connects to the discord gateway.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// Message sent to NotificationChannelID on gateway connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Custom status shown for the bot user
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is the generic reply sent when a query fails. The
	// underlying error is only ever logged, never sent to the channel.
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	// UsageMessage is the reply sent when the command prefix is used with
	// no question after it.
	UsageMessage string `yaml:"usage_message" mapstructure:"usage_message" json:"usage_message" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// OpenAIConfig configures OpenAI API integration and model parameters
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Model used to embed queries and knowledge-base chunks
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model" json:"embedding_model" binding:"required"`

	// Model used to generate answers
	CompletionModel string `yaml:"completion_model" mapstructure:"completion_model" json:"completion_model" binding:"required"`

	// Sampling temperature for answer generation
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature"`

	// Token budget for generated answers
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`

	// Ceiling on outbound OpenAI API requests per second
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// NotionConfig configures access to the Notion database holding the
// knowledge-base transcripts.
type NotionConfig struct {
	// Notion integration token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// ID of the Notion database holding transcript pages
	DatabaseID string `yaml:"database_id" mapstructure:"database_id" json:"database_id" binding:"required"`

	// Title property name on transcript pages
	TitleProperty string `yaml:"title_property" mapstructure:"title_property" json:"title_property"`

	// Select property holding the course name
	CourseProperty string `yaml:"course_property" mapstructure:"course_property" json:"course_property"`

	// Checkbox property marking a page as already indexed
	IndexedProperty string `yaml:"indexed_property" mapstructure:"indexed_property" json:"indexed_property"`

	// Notion log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// PipelineConfig configures the retrieval and indexing pipelines.
type PipelineConfig struct {
	// Number of relevant chunks retrieved per query
	SearchResults int `yaml:"search_results" mapstructure:"search_results" json:"search_results"`

	// Chunk size, in words, used when splitting transcripts
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size" json:"chunk_size"`

	// Overlap, in words, between adjacent chunks
	ChunkOverlap int `yaml:"chunk_overlap" mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Number of texts embedded per OpenAI request
	EmbeddingBatchSize int `yaml:"embedding_batch_size" mapstructure:"embedding_batch_size" json:"embedding_batch_size"`

	// Attempts made per embedding batch before giving up
	EmbeddingRetries int `yaml:"embedding_retries" mapstructure:"embedding_retries" json:"embedding_retries"`

	// Number of prior exchanges included as context for thread follow-ups
	ThreadHistoryLimit int `yaml:"thread_history_limit" mapstructure:"thread_history_limit" json:"thread_history_limit"`
}

// APIConfig configures the operational API server
type APIConfig struct {
	// Enabled determines whether the API server is started
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// Bearer token required on all endpoints except the health check
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_if=Enabled true"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"required_if=Enabled true,min=1s"`

	// If true, pprof endpoints are registered on the API server
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"Cache-Control",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	notionLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	notionLogLevel.Set(DefaultNotionLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RateLimit: &RateLimitConfig{
			Window:      DefaultRateLimitWindow,
			MaxRequests: DefaultRateLimitMaxRequests,
		},
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
			UsageMessage:      DefaultDiscordUsageMessage,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		OpenAI: &OpenAIConfig{
			EmbeddingModel:       DefaultOpenAIEmbeddingModel,
			CompletionModel:      DefaultOpenAICompletionModel,
			Temperature:          DefaultOpenAITemperature,
			MaxTokens:            DefaultOpenAIMaxTokens,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		Notion: &NotionConfig{
			TitleProperty:   DefaultNotionTitleProperty,
			CourseProperty:  DefaultNotionCourseProperty,
			IndexedProperty: DefaultNotionIndexedProperty,
			LogLevel:        notionLogLevel,
		},
		Pipeline: &PipelineConfig{
			SearchResults:      DefaultSearchResults,
			ChunkSize:          DefaultChunkSize,
			ChunkOverlap:       DefaultChunkOverlap,
			EmbeddingBatchSize: DefaultEmbeddingBatchSize,
			EmbeddingRetries:   DefaultEmbeddingRetries,
			ThreadHistoryLimit: DefaultThreadHistoryLimit,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
