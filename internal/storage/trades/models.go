package trades

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Account is the single paper trading account.
type Account struct {
	ID             int64     `gorm:"column:id;primaryKey"`
	Kind           string    `gorm:"column:kind;uniqueIndex"`
	Balance        float64   `gorm:"column:balance"`
	InitialBalance float64   `gorm:"column:initial_balance"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Position is one simulated trade. A ticker can hold several positions
// but only one per opening instant.
type Position struct {
	ID          int64      `gorm:"column:id;primaryKey"`
	Ticker      string     `gorm:"column:ticker;uniqueIndex:idx_position_open,priority:1"`
	OpenedAt    time.Time  `gorm:"column:opened_at;uniqueIndex:idx_position_open,priority:2"`
	Action      string     `gorm:"column:action"`
	Price       float64    `gorm:"column:price"`
	Quantity    int        `gorm:"column:quantity"`
	Personality string     `gorm:"column:personality"`
	Confidence  float64    `gorm:"column:confidence"`
	StopLoss    float64    `gorm:"column:stop_loss"`
	TakeProfit  float64    `gorm:"column:take_profit"`
	Status      string     `gorm:"column:status;index"`
	ExitPrice   float64    `gorm:"column:exit_price"`
	RealizedPnL float64    `gorm:"column:realized_pnl"`
	ClosedAt    *time.Time `gorm:"column:closed_at"`
	RunID       string     `gorm:"column:run_id"`
}

func (Position) TableName() string { return "positions" }

type WatchlistEntry struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Ticker    string    `gorm:"column:ticker;uniqueIndex"`
	Sector    string    `gorm:"column:sector"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (WatchlistEntry) TableName() string { return "watchlist" }

// Summary is the persisted summary of one mode run.
type Summary struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	RunID       string         `gorm:"column:run_id;uniqueIndex"`
	Mode        string         `gorm:"column:mode;index"`
	Subject     string         `gorm:"column:subject"`
	ActionsJSON datatypes.JSON `gorm:"column:actions_json;type:TEXT"`
	MetricsJSON datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (Summary) TableName() string { return "summaries" }
