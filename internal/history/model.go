package history

import (
	"time"

	"gorm.io/datatypes"
)

// ClosedTrade is the durable record of one fully closed position. It is the
// sole input to the performance metrics the profile selector consumes.
type ClosedTrade struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Ticket     string    `gorm:"column:ticket;index"`
	Symbol     string    `gorm:"column:symbol;index"`
	Direction  string    `gorm:"column:direction"`
	EntryPrice float64   `gorm:"column:entry_price"`
	ExitPrice  float64   `gorm:"column:exit_price"`
	Volume     float64   `gorm:"column:volume"`
	Profit     float64   `gorm:"column:profit"`
	RiskAmount float64   `gorm:"column:risk_amount"`
	Profile    string    `gorm:"column:profile"`
	ExitRule   string    `gorm:"column:exit_rule"`
	OpenedAt   time.Time `gorm:"column:opened_at"`
	ClosedAt   time.Time `gorm:"column:closed_at;index"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (ClosedTrade) TableName() string { return "closed_trades" }

// DecisionAudit captures one admission or exit decision with its full
// reasoning payload, keyed by a trace id so related log lines can be
// correlated.
type DecisionAudit struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID   string         `gorm:"column:trace_id;uniqueIndex"`
	Kind      string         `gorm:"column:kind;index"`
	Symbol    string         `gorm:"column:symbol;index"`
	Ticket    string         `gorm:"column:ticket"`
	Accepted  bool           `gorm:"column:accepted"`
	Gate      string         `gorm:"column:gate"`
	Rule      string         `gorm:"column:rule"`
	Detail    datatypes.JSON `gorm:"column:detail"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

func (DecisionAudit) TableName() string { return "decision_audits" }

const (
	AuditKindAdmission = "admission"
	AuditKindExit      = "exit"
)
