package contracts

import "time"

// DateLayout is the canonical calendar-date format used in prompts, keys and metadata
const DateLayout = "2006-01-02"

// PriceBar is one daily OHLCV bar
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceWindow holds the bars ending at AsOfDate and the indicator snapshot computed from them.
// One row per (asset, as_of_date).
type PriceWindow struct {
	ID         int64      `json:"price_window_id"`
	AssetID    int64      `json:"asset_id"`
	AsOfDate   time.Time  `json:"as_of_date"`
	Bars       []PriceBar `json:"ohlcv_window"`
	Technicals Technicals `json:"technicals"`
	WindowDays int        `json:"window_days"`
}

// LastClose returns the close of the final bar, if any
func (w *PriceWindow) LastClose() (float64, bool) {
	if len(w.Bars) == 0 {
		return 0, false
	}
	return w.Bars[len(w.Bars)-1].Close, true
}

// Technicals is the indicator snapshot stored with a price window
type Technicals struct {
	Latest IndicatorSnapshot `json:"latest"`
	Series SeriesTail        `json:"series"`
}

// IndicatorSnapshot holds the last value of each indicator; nil when history is too short
type IndicatorSnapshot struct {
	MA5     *float64 `json:"ma_5"`
	MA10    *float64 `json:"ma_10"`
	EMA12   *float64 `json:"ema_12"`
	EMA26   *float64 `json:"ema_26"`
	MACD    *float64 `json:"macd"`
	RSI14   *float64 `json:"rsi_14"`
	ATR14   *float64 `json:"atr_14"`
	BBUpper *float64 `json:"bb_upper"`
	BBLower *float64 `json:"bb_lower"`
}

// SeriesTail is the last few closes of the window
type SeriesTail struct {
	Close []float64 `json:"close"`
	Dates []string  `json:"dates"`
}

// Fundamental is one financial report
type Fundamental struct {
	AssetID    int64              `json:"asset_id"`
	ReportDate time.Time          `json:"report_date"`
	FilingDate *time.Time         `json:"filing_date,omitempty"`
	PeriodType string             `json:"period_type"`
	Currency   string             `json:"currency"`
	Metrics    FundamentalMetrics `json:"metrics"`
	Source     string             `json:"source"`
}

// PublicOn is the day the statement became public: the filing date when known, else the period end
func (f *Fundamental) PublicOn() time.Time {
	if f.FilingDate != nil {
		return *f.FilingDate
	}
	return f.ReportDate
}

// FundamentalMetrics are the income-statement fields carried into prompts
type FundamentalMetrics struct {
	Revenue   *float64 `json:"revenue,omitempty"`
	NetIncome *float64 `json:"net_income,omitempty"`
	EBITDA    *float64 `json:"ebitda,omitempty"`
	EPS       *float64 `json:"eps,omitempty"`
}

// OptionContract is one listed option observed on AsOfDate
type OptionContract struct {
	AssetID         int64     `json:"asset_id"`
	AsOfDate        time.Time `json:"as_of_date"`
	Expiration      time.Time `json:"expiration"`
	OptionType      string    `json:"option_type"` // call, put
	Strike          float64   `json:"strike"`
	OpenInterest    int64     `json:"open_interest"`
	ImpliedVol      float64   `json:"implied_vol"`
	UnderlyingPrice float64   `json:"underlying_price"`
}

// MacroEvent is one economic calendar entry; not tied to an asset
type MacroEvent struct {
	EventDate  time.Time `json:"event_date"`
	EventName  string    `json:"event_name"`
	Country    string    `json:"country"`
	Importance int       `json:"importance"`
	Actual     *float64  `json:"actual,omitempty"`
	Forecast   *float64  `json:"forecast,omitempty"`
	Previous   *float64  `json:"previous,omitempty"`
}

// InsiderTxn is one insider filing
type InsiderTxn struct {
	AssetID         int64     `json:"asset_id"`
	FilingDate      time.Time `json:"filing_date"`
	InsiderName     string    `json:"insider_name"`
	TransactionType string    `json:"transaction_type"`
	Shares          float64   `json:"shares"`
	Price           float64   `json:"price"`
}

// AnalystReco is one analyst rating action
type AnalystReco struct {
	AssetID  int64     `json:"asset_id"`
	RecoDate time.Time `json:"reco_date"`
	Firm     string    `json:"firm"`
	Rating   string    `json:"rating"`
	Action   string    `json:"action,omitempty"`
}
