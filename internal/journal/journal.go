package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one computed move.
type Entry struct {
	SessionID string
	BoardID   int64
	Phase     string
	Input     string
	Output    string
	Duration  time.Duration
	At        time.Time
}

// Move is the persisted form of an Entry.
type Move struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  string    `gorm:"index;size:36" json:"session_id"`
	BoardID    int64     `gorm:"index" json:"board_id"`
	Phase      string    `gorm:"size:8" json:"phase"`
	Input      string    `gorm:"size:1024" json:"input"`
	Output     string    `gorm:"size:1024" json:"output"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Move) TableName() string { return "bridge_moves" }

func toMove(e Entry) Move {
	return Move{
		ID:         uuid.New(),
		SessionID:  e.SessionID,
		BoardID:    e.BoardID,
		Phase:      e.Phase,
		Input:      e.Input,
		Output:     e.Output,
		DurationMs: e.Duration.Milliseconds(),
		CreatedAt:  e.At,
	}
}

type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// ParseDSN validates a postgres connection string without connecting.
func ParseDSN(dsn string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	return cfg, nil
}

// Open connects and migrates the moves table.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDB(*cfg)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Move{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	log.Named("journal").Info("journal ready", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return &Postgres{db: db, log: log.Named("journal")}, nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	m := toMove(e)
	if err := p.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to record move: %w", err)
	}
	return nil
}

// Recent returns the latest moves for a board, newest first.
func (p *Postgres) Recent(ctx context.Context, boardID int64, limit int) ([]Move, error) {
	var moves []Move
	err := p.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("created_at desc").
		Limit(limit).
		Find(&moves).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list moves: %w", err)
	}
	return moves, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
