package dataflows

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/quote"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

// MarketIndices are the indices reported by Overview.
var MarketIndices = []string{"^GSPC", "^DJI", "^IXIC", "^RUT"}

// YahooSource is the raw Yahoo Finance surface the client depends on.
type YahooSource interface {
	Quote(symbol string) (*finance.Quote, error)
	Equity(symbol string) (*finance.Equity, error)
	Bars(symbol string, start, end time.Time) ([]Bar, error)
}

type financeGoSource struct{}

func (financeGoSource) Quote(symbol string) (*finance.Quote, error) { return quote.Get(symbol) }

func (financeGoSource) Equity(symbol string) (*finance.Equity, error) { return equity.Get(symbol) }

func (financeGoSource) Bars(symbol string, start, end time.Time) ([]Bar, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)
	bars := make([]Bar, 0)
	for iter.Next() {
		bar := iter.Bar()
		bars = append(bars, Bar{
			Date:   time.Unix(int64(bar.Timestamp), 0),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

// YahooFinanceClient handles Yahoo Finance data operations
type YahooFinanceClient struct {
	src    YahooSource
	cache  *CacheManager
	policy retry.Policy
	now    func() time.Time
}

// NewYahooFinanceClient creates a new Yahoo Finance client
func NewYahooFinanceClient(config *Config) *YahooFinanceClient {
	cacheDir := filepath.Join(config.DataCacheDir, "yahoo_finance")
	return NewYahooFinanceClientWithSource(financeGoSource{}, NewCacheManager(cacheDir, time.Hour, config.CacheEnabled))
}

func NewYahooFinanceClientWithSource(src YahooSource, cache *CacheManager) *YahooFinanceClient {
	return &YahooFinanceClient{
		src:    src,
		cache:  cache,
		policy: retry.DefaultPolicy(),
		now:    time.Now,
	}
}

func (yf *YahooFinanceClient) SetRetryPolicy(p retry.Policy) { yf.policy = p }

// NormalizeSymbol converts symbol to standard format
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}

// ValidateSymbol checks if a stock symbol is valid format
func ValidateSymbol(symbol string) error {
	symbol = NormalizeSymbol(symbol)
	if len(symbol) == 0 {
		return errors.New("symbol cannot be empty")
	}
	if len(symbol) > 10 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}

func (yf *YahooFinanceClient) quote(ctx context.Context, symbol string) (*finance.Quote, error) {
	return retry.DoValue(ctx, yf.policy, func(ctx context.Context) (*finance.Quote, error) {
		q, err := yf.src.Quote(symbol)
		if err != nil {
			return nil, models.NewUpstreamError("yahoo", fmt.Errorf("failed to get quote for %s: %w", symbol, err))
		}
		return q, nil
	})
}

func (yf *YahooFinanceClient) bars(ctx context.Context, symbol string, months int) ([]Bar, error) {
	end := yf.now()
	start := end.AddDate(0, -months, 0)

	cacheKey := map[string]interface{}{
		"symbol": symbol,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}
	var cached []Bar
	if yf.cache.Get("yahoo", "historical", cacheKey, &cached) {
		return cached, nil
	}

	bars, err := retry.DoValue(ctx, yf.policy, func(ctx context.Context) ([]Bar, error) {
		bars, err := yf.src.Bars(symbol, start, end)
		if err != nil {
			return nil, models.NewUpstreamError("yahoo", fmt.Errorf("failed to get historical data for %s: %w", symbol, err))
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		_ = yf.cache.Set("yahoo", "historical", cacheKey, bars)
	}
	return bars, nil
}

// Validate reports ErrInvalidSubject for symbols Yahoo does not know.
// Upstream failures are returned as such so callers can tell them apart.
func (yf *YahooFinanceClient) Validate(ctx context.Context, ticker string) error {
	if err := ValidateSymbol(ticker); err != nil {
		return models.InvalidSubject(ticker, err)
	}
	symbol := NormalizeSymbol(ticker)
	q, err := yf.quote(ctx, symbol)
	if err != nil {
		return err
	}
	if q == nil || (q.RegularMarketPrice == 0 && q.ShortName == "") {
		return models.InvalidSubject(symbol, errors.New("no quote found"))
	}
	return nil
}

// Snapshot returns price, change, volume and SMA/RSI indicators over three
// months of daily bars. It never fails; errors land in the snapshot.
func (yf *YahooFinanceClient) Snapshot(ctx context.Context, ticker string) models.MarketSnapshot {
	symbol := NormalizeSymbol(ticker)
	bars, err := yf.bars(ctx, symbol, 3)
	if err != nil {
		return models.ErrorSnapshot(symbol, err)
	}
	if len(bars) == 0 {
		return models.ErrorSnapshot(symbol, fmt.Errorf("no data found for %s", symbol))
	}

	cl := closes(bars)
	last := bars[len(bars)-1]
	return models.MarketSnapshot{
		Success:      true,
		Ticker:       symbol,
		CurrentPrice: round2(cl[len(cl)-1]),
		DailyChange:  round2(DailyChange(cl)),
		Volume:       last.Volume,
		TechnicalIndicators: models.TechnicalIndicators{
			SMA20: round2(LastSMA(cl, 20)),
			SMA50: round2(LastSMA(cl, 50)),
			RSI:   round2(LastRSI(cl, 14)),
		},
		PriceHistory:  cl,
		VolumeHistory: volumes(bars),
	}
}

// Financials returns company profile and per-share metrics.
func (yf *YahooFinanceClient) Financials(ctx context.Context, ticker string) models.Financials {
	symbol := NormalizeSymbol(ticker)

	var cached models.Financials
	if yf.cache.Get("yahoo", "financials", symbol, &cached) {
		return cached
	}

	eq, err := retry.DoValue(ctx, yf.policy, func(ctx context.Context) (*finance.Equity, error) {
		eq, err := yf.src.Equity(symbol)
		if err != nil {
			return nil, models.NewUpstreamError("yahoo", fmt.Errorf("failed to get financials for %s: %w", symbol, err))
		}
		return eq, nil
	})
	if err != nil {
		return models.Financials{Ticker: symbol, Error: err.Error()}
	}
	if eq == nil {
		return models.Financials{Ticker: symbol, Error: fmt.Sprintf("no financial data for %s", symbol)}
	}

	name := eq.LongName
	if name == "" {
		name = eq.ShortName
	}
	out := models.Financials{
		Success: true,
		Ticker:  symbol,
		CompanyInfo: models.CompanyInfo{
			Name:          name,
			Exchange:      eq.FullExchangeName,
			QuoteType:     string(eq.QuoteType),
			MarketCap:     eq.MarketCap,
			TrailingPE:    eq.TrailingPE,
			ForwardPE:     eq.ForwardPE,
			DividendYield: eq.TrailingAnnualDividendYield,
		},
		KeyMetrics: models.KeyMetrics{
			EPSTrailing:       eq.EpsTrailingTwelveMonths,
			EPSForward:        eq.EpsForward,
			BookValue:         eq.BookValue,
			PriceToBook:       eq.PriceToBook,
			SharesOutstanding: int64(eq.SharesOutstanding),
			FiftyTwoWeekLow:   eq.FiftyTwoWeekLow,
			FiftyTwoWeekHigh:  eq.FiftyTwoWeekHigh,
		},
	}
	_ = yf.cache.Set("yahoo", "financials", symbol, out)
	return out
}

// Analysis computes trend, momentum and volatility over six months of bars.
func (yf *YahooFinanceClient) Analysis(ctx context.Context, ticker string) models.MarketAnalysis {
	symbol := NormalizeSymbol(ticker)
	bars, err := yf.bars(ctx, symbol, 6)
	if err != nil {
		return models.MarketAnalysis{Ticker: symbol, Error: err.Error()}
	}
	if len(bars) == 0 {
		return models.MarketAnalysis{Ticker: symbol, Error: fmt.Sprintf("no data found for %s", symbol)}
	}

	cl := closes(bars)
	var volSum float64
	for _, b := range bars {
		volSum += float64(b.Volume)
	}
	macd, signal := LastMACD(cl)

	out := models.MarketAnalysis{
		Success: true,
		Ticker:  symbol,
		CurrentAnalysis: models.CurrentAnalysis{
			Price:      round2(cl[len(cl)-1]),
			Volume:     bars[len(bars)-1].Volume,
			RSI:        round2(LastRSI(cl, 14)),
			MACD:       macd,
			MACDSignal: signal,
			Volatility: AnnualizedVolatility(cl, 20),
			EMA20:      round2(LastEMA(cl, 20)),
		},
		Performance: models.Performance{
			OneMonthReturn:   round2(PercentReturn(cl, 21)),
			ThreeMonthReturn: round2(PercentReturn(cl, 63)),
			AvgVolume:        volSum / float64(len(bars)),
		},
	}

	// Market cap is a nice-to-have; a failed lookup leaves it zero.
	if eq, err := yf.src.Equity(symbol); err == nil && eq != nil {
		out.MarketCap = eq.MarketCap
	}
	return out
}

// Overview quotes the major US indices. Indices that fail are left out.
func (yf *YahooFinanceClient) Overview(ctx context.Context) models.MarketOverview {
	overview := models.MarketOverview{Indices: []models.IndexQuote{}, FetchedAt: yf.now()}
	for _, symbol := range MarketIndices {
		if ctx.Err() != nil {
			break
		}
		q, err := yf.quote(ctx, symbol)
		if err != nil || q == nil {
			continue
		}
		overview.Indices = append(overview.Indices, models.IndexQuote{
			Symbol:      symbol,
			Price:       round2(q.RegularMarketPrice),
			DailyChange: round2(q.RegularMarketChangePercent),
		})
	}
	return overview
}
