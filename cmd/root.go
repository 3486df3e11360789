package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/nicoburkart/agent-converto/converto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = converto.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "converto [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", converto.DefaultDatabase)
	viper.SetDefault("database_type", converto.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		converto.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		converto.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", converto.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", converto.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", converto.DefaultShutdownTimeout)

	viper.SetDefault("rate_limit.window", converto.DefaultRateLimitWindow)
	viper.SetDefault(
		"rate_limit.max_requests",
		converto.DefaultRateLimitMaxRequests,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.dedicated_channel_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.command_prefix", converto.DefaultCommandPrefix)
	viper.SetDefault(
		"discord.startup_message",
		converto.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		converto.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.error_message",
		converto.DefaultDiscordErrorMessage,
	)
	viper.SetDefault(
		"discord.usage_message",
		converto.DefaultDiscordUsageMessage,
	)
	viper.SetDefault(
		"discord.gateway_intents",
		converto.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.log_level",
		converto.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		converto.DefaultDiscordgoLogLevel.String(),
	)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault(
		"openai.embedding_model",
		converto.DefaultOpenAIEmbeddingModel,
	)
	viper.SetDefault(
		"openai.completion_model",
		converto.DefaultOpenAICompletionModel,
	)
	viper.SetDefault("openai.temperature", converto.DefaultOpenAITemperature)
	viper.SetDefault("openai.max_tokens", converto.DefaultOpenAIMaxTokens)
	viper.SetDefault(
		"openai.max_requests_per_second",
		converto.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault(
		"openai.log_level",
		converto.DefaultOpenAILogLevel.String(),
	)

	// Notion config
	viper.SetDefault("notion.token", "")
	viper.SetDefault("notion.database_id", "")
	viper.SetDefault("notion.title_property", converto.DefaultNotionTitleProperty)
	viper.SetDefault(
		"notion.course_property",
		converto.DefaultNotionCourseProperty,
	)
	viper.SetDefault(
		"notion.indexed_property",
		converto.DefaultNotionIndexedProperty,
	)
	viper.SetDefault(
		"notion.log_level",
		converto.DefaultNotionLogLevel.String(),
	)

	// Pipeline config
	viper.SetDefault("pipeline.search_results", converto.DefaultSearchResults)
	viper.SetDefault("pipeline.chunk_size", converto.DefaultChunkSize)
	viper.SetDefault("pipeline.chunk_overlap", converto.DefaultChunkOverlap)
	viper.SetDefault(
		"pipeline.embedding_batch_size",
		converto.DefaultEmbeddingBatchSize,
	)
	viper.SetDefault(
		"pipeline.embedding_retries",
		converto.DefaultEmbeddingRetries,
	)
	viper.SetDefault(
		"pipeline.thread_history_limit",
		converto.DefaultThreadHistoryLimit,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", converto.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", converto.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", converto.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		converto.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", converto.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", converto.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		converto.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		converto.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.expose_headers", []string{})
	viper.SetDefault("api.cors.max_age", converto.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", false)

	viper.SetEnvPrefix(converto.DefaultEnvPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"notion.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
