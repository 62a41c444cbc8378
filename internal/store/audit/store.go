package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradegate/internal/pkg/circuit"
	storemodel "tradegate/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultListLimit = 50

type activationModel = storemodel.ActivationModel
type roundModel = storemodel.RoundModel

// RoundRecord 是一轮交易的审计摘要；Report 保存完整的逐 agent 结果。
type RoundRecord struct {
	RoundID    string          `json:"round_id"`
	Holder     string          `json:"holder"`
	Skipped    bool            `json:"skipped"`
	DryRun     bool            `json:"dry_run"`
	Agents     int             `json:"agents"`
	Executed   int             `json:"executed"`
	Blocked    int             `json:"blocked"`
	Report     json.RawMessage `json:"report,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Store 是只追加的审计日志，供看板读取；进程状态从不由它恢复。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&activationModel{}, &roundModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveActivation(ctx context.Context, a circuit.Activation) error {
	if s == nil || s.db == nil {
		return nil
	}
	m := activationModel{
		Breaker:   string(a.Breaker),
		AgentID:   a.AgentID,
		Outcome:   string(a.Outcome),
		Details:   a.Details,
		Timestamp: a.Timestamp.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListActivations 按时间倒序返回；agentID 为空时不过滤。
func (s *Store) ListActivations(ctx context.Context, agentID string, limit int) ([]circuit.Activation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("timestamp DESC, id DESC").Limit(normalizeLimit(limit))
	if id := strings.TrimSpace(agentID); id != "" {
		q = q.Where("agent_id = ?", id)
	}
	var rows []activationModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]circuit.Activation, 0, len(rows))
	for _, r := range rows {
		out = append(out, circuit.Activation{
			Breaker:   circuit.Name(r.Breaker),
			AgentID:   r.AgentID,
			Outcome:   circuit.Outcome(r.Outcome),
			Details:   r.Details,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	return out, nil
}

func (s *Store) SaveRound(ctx context.Context, rec RoundRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(rec.RoundID) == "" {
		return fmt.Errorf("audit store: round id cannot be empty")
	}
	report := rec.Report
	if len(report) == 0 {
		report = json.RawMessage("{}")
	}
	m := roundModel{
		RoundID:    rec.RoundID,
		Holder:     rec.Holder,
		Skipped:    rec.Skipped,
		DryRun:     rec.DryRun,
		Agents:     rec.Agents,
		Executed:   rec.Executed,
		Blocked:    rec.Blocked,
		Report:     datatypes.JSON(report),
		StartedAt:  rec.StartedAt.UnixMilli(),
		FinishedAt: rec.FinishedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListRounds 返回最近的轮次，最新在前。
func (s *Store) ListRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []roundModel
	err := s.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]RoundRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, RoundRecord{
			RoundID:    r.RoundID,
			Holder:     r.Holder,
			Skipped:    r.Skipped,
			DryRun:     r.DryRun,
			Agents:     r.Agents,
			Executed:   r.Executed,
			Blocked:    r.Blocked,
			Report:     json.RawMessage(r.Report),
			StartedAt:  time.UnixMilli(r.StartedAt).UTC(),
			FinishedAt: time.UnixMilli(r.FinishedAt).UTC(),
		})
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}
