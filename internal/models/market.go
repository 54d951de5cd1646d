package models

import "time"

// Article is a search hit, optionally enriched with scraped page content.
type Article struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Source   string `json:"source"`
	Category string `json:"category,omitempty"`
}

type ScrapeMetadata struct {
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	ContentLength int       `json:"content_length"`
}

type ScrapeResult struct {
	Success  bool           `json:"success"`
	URL      string         `json:"url"`
	Content  string         `json:"content"`
	Metadata ScrapeMetadata `json:"metadata"`
	Error    string         `json:"error,omitempty"`
}

type TechnicalIndicators struct {
	SMA20 float64 `json:"sma_20"`
	SMA50 float64 `json:"sma_50"`
	RSI   float64 `json:"rsi"`
}

// MarketSnapshot is the current price picture for one ticker. A failed fetch
// yields a zero-valued snapshot with Success false; callers still proceed.
type MarketSnapshot struct {
	Success             bool                `json:"success"`
	Ticker              string              `json:"ticker"`
	CurrentPrice        float64             `json:"current_price"`
	DailyChange         float64             `json:"daily_change"`
	Volume              int64               `json:"volume"`
	TechnicalIndicators TechnicalIndicators `json:"technical_indicators"`
	PriceHistory        []float64           `json:"price_history"`
	VolumeHistory       []int64             `json:"volume_history"`
	Error               string              `json:"error,omitempty"`
}

func ErrorSnapshot(ticker string, err error) MarketSnapshot {
	snap := MarketSnapshot{
		Ticker:        ticker,
		PriceHistory:  []float64{},
		VolumeHistory: []int64{},
	}
	if err != nil {
		snap.Error = err.Error()
	}
	return snap
}

type CompanyInfo struct {
	Name          string  `json:"name"`
	Exchange      string  `json:"exchange"`
	QuoteType     string  `json:"quote_type"`
	MarketCap     int64   `json:"market_cap"`
	TrailingPE    float64 `json:"pe_ratio"`
	ForwardPE     float64 `json:"forward_pe"`
	DividendYield float64 `json:"dividend_yield"`
}

type KeyMetrics struct {
	EPSTrailing       float64 `json:"eps_trailing"`
	EPSForward        float64 `json:"eps_forward"`
	BookValue         float64 `json:"book_value"`
	PriceToBook       float64 `json:"price_to_book"`
	SharesOutstanding int64   `json:"shares_outstanding"`
	FiftyTwoWeekLow   float64 `json:"fifty_two_week_low"`
	FiftyTwoWeekHigh  float64 `json:"fifty_two_week_high"`
}

type Financials struct {
	Success     bool        `json:"success"`
	Ticker      string      `json:"ticker"`
	CompanyInfo CompanyInfo `json:"company_info"`
	KeyMetrics  KeyMetrics  `json:"key_metrics"`
	Error       string      `json:"error,omitempty"`
}

type CurrentAnalysis struct {
	Price      float64 `json:"price"`
	Volume     int64   `json:"volume"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	Volatility float64 `json:"volatility"`
	EMA20      float64 `json:"ema_20"`
}

type Performance struct {
	OneMonthReturn   float64 `json:"1m_return"`
	ThreeMonthReturn float64 `json:"3m_return"`
	AvgVolume        float64 `json:"avg_volume"`
}

type MarketAnalysis struct {
	Success         bool            `json:"success"`
	Ticker          string          `json:"ticker"`
	CurrentAnalysis CurrentAnalysis `json:"current_analysis"`
	Performance     Performance     `json:"performance"`
	MarketCap       int64           `json:"market_cap"`
	Error           string          `json:"error,omitempty"`
}

type IndexQuote struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	DailyChange float64 `json:"daily_change"`
}

type MarketOverview struct {
	Indices   []IndexQuote `json:"indices"`
	FetchedAt time.Time    `json:"fetched_at"`
}
