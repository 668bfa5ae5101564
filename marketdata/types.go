package marketdata

// Quote is the most recent completed trading session for a ticker.
type Quote struct {
	Ticker string  `json:"ticker"`
	Close  float64 `json:"close"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
	VWAP   float64 `json:"vwap"`
}

// CompanyDetails describes a listed company.
type CompanyDetails struct {
	Ticker         string  `json:"ticker"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	MarketCap      float64 `json:"market_cap"`
	Sector         string  `json:"sector"`
	HomepageURL    string  `json:"homepage_url"`
	TotalEmployees int     `json:"total_employees"`
}

// FinancialPeriod is a condensed view of one filing period.
type FinancialPeriod struct {
	Period           string  `json:"period"`
	Revenue          float64 `json:"revenue"`
	NetIncome        float64 `json:"net_income"`
	GrossProfit      float64 `json:"gross_profit"`
	TotalAssets      float64 `json:"total_assets"`
	TotalLiabilities float64 `json:"total_liabilities"`
}

// NewsArticle is one published article about a ticker.
type NewsArticle struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	Published   string `json:"published"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Dividend is one dividend payment record.
type Dividend struct {
	ExDate    string  `json:"ex_date"`
	PayDate   string  `json:"pay_date"`
	Amount    float64 `json:"amount"`
	Frequency int     `json:"frequency"`
}

// Split is one stock split record.
type Split struct {
	ExecutionDate string  `json:"execution_date"`
	SplitFrom     float64 `json:"split_from"`
	SplitTo       float64 `json:"split_to"`
}

// Bar is one OHLCV aggregate for a time window.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
