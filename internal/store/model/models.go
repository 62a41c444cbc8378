package model

import (
	"gorm.io/datatypes"
)

// ActivationModel maps to 'breaker_activations' table.
type ActivationModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	Breaker   string `gorm:"column:breaker;index"`
	AgentID   string `gorm:"column:agent_id;index"`
	Outcome   string `gorm:"column:outcome"`
	Details   string `gorm:"column:details"`
	Timestamp int64  `gorm:"column:timestamp;index"` // unix millis
}

func (ActivationModel) TableName() string { return "breaker_activations" }

// RoundModel maps to 'trading_rounds' table. Report keeps the full per-agent breakdown.
type RoundModel struct {
	ID         int64          `gorm:"column:id;primaryKey"`
	RoundID    string         `gorm:"column:round_id;uniqueIndex"`
	Holder     string         `gorm:"column:holder"`
	Skipped    bool           `gorm:"column:skipped"`
	DryRun     bool           `gorm:"column:dry_run"`
	Agents     int            `gorm:"column:agents"`
	Executed   int            `gorm:"column:executed"`
	Blocked    int            `gorm:"column:blocked"`
	Report     datatypes.JSON `gorm:"column:report"`
	StartedAt  int64          `gorm:"column:started_at;index"`
	FinishedAt int64          `gorm:"column:finished_at"`
}

func (RoundModel) TableName() string { return "trading_rounds" }
