package converto

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// User is a record of a Discord user seen by the bot.
// See: https://discord.com/developers/docs/resources/user
type User struct {
	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name - for bots, the application name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots are ignored.
	Bot bool `json:"bot" gorm:"type:bool"`

	// If true, queries from this user are dropped without a reply
	Ignored bool `json:"ignored" gorm:"type:bool;default:false"`

	// LastSeen is the last time this user sent an in-scope message
	LastSeen int64 `json:"last_seen" gorm:"column:last_seen"`

	ModelUnixTime
}

// NewUser creates a User record from a discordgo user object.
func NewUser(u discordgo.User) *User {
	user := User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		LastSeen:   time.Now().UTC().UnixMilli(),
	}
	if u.Bot {
		user.Ignored = true
	}
	return &user
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
		slog.Bool("ignored", u.Ignored),
	)
}

// QueryState is the terminal state of a query.
type QueryState string

const (
	QueryStateCompleted   QueryState = "completed"
	QueryStateFailed      QueryState = "failed"
	QueryStateRateLimited QueryState = "rate_limited"
)

// QuerySource indicates how a query reached the bot.
type QuerySource string

const (
	QuerySourceDedicatedChannel QuerySource = "dedicated_channel"
	QuerySourceCommandPrefix    QuerySource = "command_prefix"
	QuerySourceThread           QuerySource = "thread"
	QuerySourceSummary          QuerySource = "summary"
)

// QueryRecord is the stored history of a single query: what was asked, what
// was answered (or what failed), and where it came from.
type QueryRecord struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	UserID    string      `json:"user_id" gorm:"index"`
	ChannelID string      `json:"channel_id"`
	Source    QuerySource `json:"source" gorm:"type:string"`
	Question  string      `json:"question"`
	Answer    string      `json:"answer"`

	// Error holds the internal error detail for failed queries. It is never
	// sent to the chat channel.
	Error string `json:"error,omitempty"`

	State      QueryState `json:"state" gorm:"type:string;index"`
	DurationMS int64      `json:"duration_ms"`

	ModelUnixTime
}

func (q QueryRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(q.ID)),
		slog.String("user_id", q.UserID),
		slog.String("source", string(q.Source)),
		slog.String("state", string(q.State)),
		slog.Int64("duration_ms", q.DurationMS),
	)
}

// Vector is an embedding stored as a JSON-encoded float32 slice.
type Vector []float32

// Scan implements the sql.Scanner interface.
func (v *Vector) Scan(value any) error {
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return errors.New("invalid type for Vector")
	}
}

// Value implements the driver.Valuer interface.
func (v Vector) Value() (driver.Value, error) {
	data, err := json.Marshal(v)
	return string(data), err
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (Vector) GormDataType() string {
	return "text"
}

// KBPage records a Notion page that has been indexed into the
// knowledge base.
type KBPage struct {
	// PageID is the Notion page ID
	PageID string `json:"page_id" gorm:"primaryKey"`

	Title  string `json:"title"`
	Course string `json:"course" gorm:"index"`

	// ChunkCount is the number of chunks stored for this page
	ChunkCount int `json:"chunk_count"`

	// IndexedAt is when the page's chunks were last upserted
	IndexedAt int64 `json:"indexed_at"`

	ModelUnixTime
}

// KBChunk is one embedded chunk of a transcript page.
type KBChunk struct {
	// ID is "<pageID>_<chunkIndex>"
	ID string `json:"id" gorm:"primaryKey"`

	PageID     string `json:"page_id" gorm:"index"`
	Title      string `json:"title"`
	Course     string `json:"course" gorm:"index"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`

	Embedding Vector `json:"embedding" gorm:"type:text"`

	ModelUnixTime
}

// CreateDB opens (and migrates) the bot database. dbType must be 'sqlite'
// or 'postgres'.
func CreateDB(ctx context.Context, dbType string, dsn string) (*gorm.DB, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = slog.Default().With(loggerNameKey, "database")
	}

	var dialector gorm.Dialector
	switch dbType {
	case dbTypeSQLite:
		dialector = sqlite.Open(dsn)
	case dbTypePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if dbType == dbTypeSQLite {
		sqlDB, e := db.DB()
		if e != nil {
			return nil, fmt.Errorf("error getting sql.DB: %w", e)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if rv := db.Exec(pragma); rv.Error != nil {
				logger.Warn(
					"error executing pragma",
					"pragma", pragma,
					tint.Err(rv.Error),
				)
			}
		}
	}

	if err = db.AutoMigrate(
		&User{},
		&QueryRecord{},
		&KBPage{},
		&KBChunk{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// database wraps the GORM connection, serializing writes when using SQLite.
type database struct {
	db     *gorm.DB
	logger *slog.Logger

	// mu serializes write operations. Only needed for SQLite, where a
	// single write connection is used.
	mu               sync.Mutex
	concurrentWrites bool
}

func newDatabase(db *gorm.DB, log *slog.Logger, concurrentWrites bool) *database {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:               db,
		logger:           log.With(loggerNameKey, "database"),
		concurrentWrites: concurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.concurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// Create inserts the given record.
func (d *database) Create(ctx context.Context, value any) error {
	defer d.lock()()
	return d.db.WithContext(ctx).Create(value).Error
}

// Save upserts the given record.
func (d *database) Save(ctx context.Context, value any) error {
	defer d.lock()()
	return d.db.WithContext(ctx).Save(value).Error
}

// GetOrCreateUser fetches the User record for the given discord user,
// creating it on first sight. The returned bool indicates whether the
// record was created.
func (d *database) GetOrCreateUser(
	ctx context.Context,
	du discordgo.User,
) (*User, bool, error) {
	var user User
	err := d.db.WithContext(ctx).First(&user, "id = ?", du.ID).Error
	if err == nil {
		user.LastSeen = time.Now().UTC().UnixMilli()
		if e := d.Save(ctx, &user); e != nil {
			d.logger.WarnContext(ctx, "error updating last_seen", tint.Err(e))
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user = *NewUser(du)
	if err = d.Create(ctx, &user); err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

// RecentQueries returns up to limit query records, newest first.
func (d *database) RecentQueries(ctx context.Context, limit int) ([]QueryRecord, error) {
	var records []QueryRecord
	err := d.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	return records, err
}
