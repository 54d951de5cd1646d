// Package trades is the paper trading ledger: one account, its positions,
// the watchlist and the per-run summaries, kept in SQLite through gorm.
package trades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dyike/stockbot/internal/models"
)

const accountKind = "paper_trading"

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
)

// Order is what a trading decision asks the ledger to open.
type Order struct {
	Ticker      string
	Action      models.Action
	Price       float64
	Quantity    int
	Personality models.Personality
	Confidence  float64
	StopLoss    float64
	TakeProfit  float64
	RunID       string
}

type Options struct {
	InitialBalance float64
	MaxPositions   int
}

type Ledger struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

// Open migrates the schema at path and makes sure the account exists.
func Open(path string, opts Options) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = 1_000_000
	}
	if opts.MaxPositions <= 0 {
		opts.MaxPositions = 10
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.AutoMigrate(&Account{}, &Position{}, &WatchlistEntry{}, &Summary{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	l := &Ledger{db: db, opts: opts, now: func() time.Time { return time.Now().UTC() }}
	if _, err := l.EnsureAccount(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureAccount creates the account with the initial balance once. Later
// calls return the existing row untouched.
func (l *Ledger) EnsureAccount(ctx context.Context) (Account, error) {
	acct := Account{
		Kind:           accountKind,
		Balance:        l.opts.InitialBalance,
		InitialBalance: l.opts.InitialBalance,
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "kind"}}, DoNothing: true}).
		Create(&acct).Error
	if err != nil {
		return Account{}, fmt.Errorf("init account: %w", err)
	}
	return l.account(l.db.WithContext(ctx))
}

func (l *Ledger) account(tx *gorm.DB) (Account, error) {
	var acct Account
	err := tx.Where("kind = ?", accountKind).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// OpenPosition records a new open position. It refuses with
// models.ErrMaxPositions once the open limit is reached.
func (l *Ledger) OpenPosition(ctx context.Context, order Order) (Position, error) {
	ticker := strings.ToUpper(strings.TrimSpace(order.Ticker))
	if ticker == "" {
		return Position{}, fmt.Errorf("open position: ticker is required")
	}
	if order.Action != models.ActionBuy && order.Action != models.ActionSell {
		return Position{}, fmt.Errorf("open position: unsupported action %q", order.Action)
	}

	pos := Position{
		Ticker:      ticker,
		OpenedAt:    l.now(),
		Action:      string(order.Action),
		Price:       order.Price,
		Quantity:    order.Quantity,
		Personality: string(order.Personality),
		Confidence:  order.Confidence,
		StopLoss:    order.StopLoss,
		TakeProfit:  order.TakeProfit,
		Status:      StatusOpen,
		RunID:       order.RunID,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&Position{}).Where("status = ?", StatusOpen).Count(&open).Error; err != nil {
			return fmt.Errorf("count open positions: %w", err)
		}
		if open >= int64(l.opts.MaxPositions) {
			return fmt.Errorf("%w (%d)", models.ErrMaxPositions, l.opts.MaxPositions)
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticker"}, {Name: "opened_at"}},
			DoNothing: true,
		}).Create(&pos)
		if res.Error != nil {
			return fmt.Errorf("insert position: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return tx.Where("ticker = ? AND opened_at = ?", pos.Ticker, pos.OpenedAt).First(&pos).Error
		}
		return nil
	})
	if err != nil {
		return Position{}, err
	}
	return pos, nil
}

// ClosePosition marks a position closed at exitPrice and books the realized
// P&L into the account balance.
func (l *Ledger) ClosePosition(ctx context.Context, id int64, exitPrice float64) (Position, error) {
	if exitPrice <= 0 {
		return Position{}, fmt.Errorf("close position: exit price must be positive")
	}
	var pos Position
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&pos, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrPositionNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load position %d: %w", id, err)
		}
		if pos.Status != StatusOpen {
			return fmt.Errorf("%w: %d", ErrPositionClosed, id)
		}

		pnl := RealizedPnL(pos, exitPrice)
		closedAt := l.now()
		pos.Status = StatusClosed
		pos.ExitPrice = exitPrice
		pos.RealizedPnL = pnl
		pos.ClosedAt = &closedAt
		if err := tx.Save(&pos).Error; err != nil {
			return fmt.Errorf("update position %d: %w", id, err)
		}

		acct, err := l.account(tx)
		if err != nil {
			return err
		}
		balance, _ := decimal.NewFromFloat(acct.Balance).Add(decimal.NewFromFloat(pnl)).Float64()
		return tx.Model(&acct).Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": closedAt,
		}).Error
	})
	if err != nil {
		return Position{}, err
	}
	return pos, nil
}

// RealizedPnL is the profit of closing pos at exit. Short positions profit
// when the price falls.
func RealizedPnL(pos Position, exit float64) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(pos.Price))
	if pos.Action == string(models.ActionSell) {
		diff = diff.Neg()
	}
	v, _ := diff.Mul(decimal.NewFromInt(int64(pos.Quantity))).Round(2).Float64()
	return v
}

// IsWin reports whether a closed position made money for its direction.
func IsWin(pos Position) bool {
	if pos.Action == string(models.ActionSell) {
		return pos.ExitPrice < pos.Price
	}
	return pos.ExitPrice > pos.Price
}

func (l *Ledger) OpenPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := l.db.WithContext(ctx).Where("status = ?", StatusOpen).Order("opened_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	return out, nil
}

// History lists the most recent positions, open or closed. limit defaults to 50.
func (l *Ledger) History(ctx context.Context, limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Position
	err := l.db.WithContext(ctx).Order("opened_at DESC").Order("id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

type AccountStatus struct {
	Balance              float64   `json:"balance"`
	InitialBalance       float64   `json:"initial_balance"`
	ProfitLoss           float64   `json:"profit_loss"`
	ProfitLossPercentage float64   `json:"profit_loss_percentage"`
	OpenPositions        int       `json:"open_positions"`
	LastUpdated          time.Time `json:"last_updated"`
}

func (l *Ledger) Status(ctx context.Context) (AccountStatus, error) {
	acct, err := l.account(l.db.WithContext(ctx))
	if err != nil {
		return AccountStatus{}, err
	}
	var open int64
	if err := l.db.WithContext(ctx).Model(&Position{}).Where("status = ?", StatusOpen).Count(&open).Error; err != nil {
		return AccountStatus{}, fmt.Errorf("count open positions: %w", err)
	}
	pnl, pct := profitLoss(acct)
	return AccountStatus{
		Balance:              acct.Balance,
		InitialBalance:       acct.InitialBalance,
		ProfitLoss:           pnl,
		ProfitLossPercentage: pct,
		OpenPositions:        int(open),
		LastUpdated:          acct.UpdatedAt,
	}, nil
}

type PerformanceSummary struct {
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	LosingTrades         int     `json:"losing_trades"`
	WinRate              float64 `json:"win_rate"`
	CurrentBalance       float64 `json:"current_balance"`
	TotalProfitLoss      float64 `json:"total_profit_loss"`
	ProfitLossPercentage float64 `json:"profit_loss_percentage"`
}

// Performance summarizes closed positions against the account.
func (l *Ledger) Performance(ctx context.Context) (PerformanceSummary, error) {
	acct, err := l.account(l.db.WithContext(ctx))
	if err != nil {
		return PerformanceSummary{}, err
	}
	var closed []Position
	if err := l.db.WithContext(ctx).Where("status = ?", StatusClosed).Find(&closed).Error; err != nil {
		return PerformanceSummary{}, fmt.Errorf("list closed positions: %w", err)
	}

	out := PerformanceSummary{TotalTrades: len(closed), CurrentBalance: acct.Balance}
	for _, pos := range closed {
		if IsWin(pos) {
			out.WinningTrades++
		}
	}
	out.LosingTrades = out.TotalTrades - out.WinningTrades
	if out.TotalTrades > 0 {
		out.WinRate = float64(out.WinningTrades) / float64(out.TotalTrades) * 100
	}
	out.TotalProfitLoss, out.ProfitLossPercentage = profitLoss(acct)
	return out, nil
}

func profitLoss(acct Account) (float64, float64) {
	pnl := decimal.NewFromFloat(acct.Balance).Sub(decimal.NewFromFloat(acct.InitialBalance))
	abs, _ := pnl.Round(2).Float64()
	if acct.InitialBalance == 0 {
		return abs, 0
	}
	pct, _ := pnl.Div(decimal.NewFromFloat(acct.InitialBalance)).Mul(decimal.NewFromInt(100)).Round(4).Float64()
	return abs, pct
}

// UpdateWatchlist adds tickers, moving existing ones to the given sector.
func (l *Ledger) UpdateWatchlist(ctx context.Context, tickers []string, sector string) error {
	if len(tickers) == 0 {
		return nil
	}
	now := l.now()
	entries := make([]WatchlistEntry, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, tk := range tickers {
		tk = strings.ToUpper(strings.TrimSpace(tk))
		if tk == "" || seen[tk] {
			continue
		}
		seen[tk] = true
		entries = append(entries, WatchlistEntry{Ticker: tk, Sector: sector, CreatedAt: now, UpdatedAt: now})
	}
	if len(entries) == 0 {
		return nil
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"sector", "updated_at"}),
	}).Create(&entries).Error
	if err != nil {
		return fmt.Errorf("update watchlist: %w", err)
	}
	return nil
}

func (l *Ledger) Watchlist(ctx context.Context) ([]WatchlistEntry, error) {
	var out []WatchlistEntry
	if err := l.db.WithContext(ctx).Order("ticker").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	return out, nil
}

// SaveSummary stores the summary of a run once; a repeated run id is ignored.
func (l *Ledger) SaveSummary(ctx context.Context, runID, mode, subject string, actions, metrics any) error {
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	row := Summary{
		RunID:       runID,
		Mode:        mode,
		Subject:     subject,
		ActionsJSON: datatypes.JSON(actionsJSON),
		MetricsJSON: datatypes.JSON(metricsJSON),
		CreatedAt:   l.now(),
	}
	err = l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "run_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s summary: %w", mode, err)
	}
	return nil
}

// Summaries lists recent run summaries, optionally for one mode.
func (l *Ledger) Summaries(ctx context.Context, mode string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	q := l.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	var out []Summary
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return out, nil
}
