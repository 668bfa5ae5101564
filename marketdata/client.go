// Package marketdata provides a minimal client for the Polygon.io REST API,
// covering the reference and aggregate endpoints the agent tools rely on.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marketlens/marketagent/logging"
)

const defaultBaseURL = "https://api.polygon.io"

// Options configures a Client.
type Options struct {
	// BaseURL overrides the API host, mainly for tests.
	BaseURL string
	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
	// Logger receives request telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Client calls the Polygon.io REST API.
type Client struct {
	apiKey string
	opts   Options
}

// NewClient creates a Polygon client with the given API key.
func NewClient(apiKey string, optFns ...func(o *Options)) *Client {
	opts := Options{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Client{apiKey: apiKey, opts: opts}
}

// get issues an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apiKey", c.apiKey)

	u := strings.TrimRight(c.opts.BaseURL, "/") + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("polygon request %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.opts.Logger.Debug("marketdata.request", "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("polygon request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode polygon response %s: %w", path, err)
	}
	return nil
}

type aggregateBar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	VWAP      float64 `json:"vw"`
}

// PreviousClose returns the last completed trading session for a ticker.
func (c *Client) PreviousClose(ctx context.Context, ticker string) (*Quote, error) {
	var env struct {
		Results []aggregateBar `json:"results"`
	}
	path := fmt.Sprintf("/v2/aggs/ticker/%s/prev", url.PathEscape(ticker))
	if err := c.get(ctx, path, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Results) == 0 {
		return nil, fmt.Errorf("no quote data available for %s", ticker)
	}
	r := env.Results[0]
	return &Quote{
		Ticker: ticker,
		Close:  r.Close,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Volume: r.Volume,
		VWAP:   r.VWAP,
	}, nil
}

// TickerDetails returns reference details for a company.
func (c *Client) TickerDetails(ctx context.Context, ticker string) (*CompanyDetails, error) {
	var env struct {
		Results struct {
			Name           string  `json:"name"`
			Description    string  `json:"description"`
			MarketCap      float64 `json:"market_cap"`
			SICDescription string  `json:"sic_description"`
			HomepageURL    string  `json:"homepage_url"`
			TotalEmployees int     `json:"total_employees"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/v3/reference/tickers/%s", url.PathEscape(ticker))
	if err := c.get(ctx, path, nil, &env); err != nil {
		return nil, err
	}
	if env.Results.Name == "" {
		return nil, fmt.Errorf("no company data available for %s", ticker)
	}
	return &CompanyDetails{
		Ticker:         ticker,
		Name:           env.Results.Name,
		Description:    env.Results.Description,
		MarketCap:      env.Results.MarketCap,
		Sector:         env.Results.SICDescription,
		HomepageURL:    env.Results.HomepageURL,
		TotalEmployees: env.Results.TotalEmployees,
	}, nil
}

// Financials returns up to limit recent filing periods, newest first.
func (c *Client) Financials(ctx context.Context, ticker string, limit int) ([]FinancialPeriod, error) {
	if limit <= 0 {
		limit = 4
	}
	var env struct {
		Results []struct {
			FiscalPeriod string `json:"fiscal_period"`
			FiscalYear   string `json:"fiscal_year"`
			Financials   struct {
				IncomeStatement struct {
					Revenues      struct{ Value float64 } `json:"revenues"`
					NetIncomeLoss struct{ Value float64 } `json:"net_income_loss"`
					GrossProfit   struct{ Value float64 } `json:"gross_profit"`
				} `json:"income_statement"`
				BalanceSheet struct {
					Assets      struct{ Value float64 } `json:"assets"`
					Liabilities struct{ Value float64 } `json:"liabilities"`
				} `json:"balance_sheet"`
			} `json:"financials"`
		} `json:"results"`
	}
	query := url.Values{"ticker": {ticker}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/vX/reference/financials", query, &env); err != nil {
		return nil, err
	}
	periods := make([]FinancialPeriod, 0, len(env.Results))
	for _, r := range env.Results {
		periods = append(periods, FinancialPeriod{
			Period:           strings.TrimSpace(r.FiscalPeriod + " " + r.FiscalYear),
			Revenue:          r.Financials.IncomeStatement.Revenues.Value,
			NetIncome:        r.Financials.IncomeStatement.NetIncomeLoss.Value,
			GrossProfit:      r.Financials.IncomeStatement.GrossProfit.Value,
			TotalAssets:      r.Financials.BalanceSheet.Assets.Value,
			TotalLiabilities: r.Financials.BalanceSheet.Liabilities.Value,
		})
	}
	return periods, nil
}

// TickerNews returns up to limit recent articles for a ticker.
func (c *Client) TickerNews(ctx context.Context, ticker string, limit int) ([]NewsArticle, error) {
	if limit <= 0 {
		limit = 10
	}
	var env struct {
		Results []struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			PublishedUTC string `json:"published_utc"`
			ArticleURL   string `json:"article_url"`
			Publisher    struct {
				Name string `json:"name"`
			} `json:"publisher"`
		} `json:"results"`
	}
	query := url.Values{"ticker": {ticker}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/v2/reference/news", query, &env); err != nil {
		return nil, err
	}
	articles := make([]NewsArticle, 0, len(env.Results))
	for _, r := range env.Results {
		source := r.Publisher.Name
		if source == "" {
			source = "Unknown"
		}
		published := r.PublishedUTC
		if len(published) > 10 {
			published = published[:10]
		}
		articles = append(articles, NewsArticle{
			Title:       r.Title,
			Source:      source,
			Published:   published,
			Description: r.Description,
			URL:         r.ArticleURL,
		})
	}
	return articles, nil
}

// Dividends returns up to limit dividend records, newest first.
func (c *Client) Dividends(ctx context.Context, ticker string, limit int) ([]Dividend, error) {
	if limit <= 0 {
		limit = 10
	}
	var env struct {
		Results []struct {
			ExDividendDate string  `json:"ex_dividend_date"`
			PayDate        string  `json:"pay_date"`
			CashAmount     float64 `json:"cash_amount"`
			Frequency      int     `json:"frequency"`
		} `json:"results"`
	}
	query := url.Values{"ticker": {ticker}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/v3/reference/dividends", query, &env); err != nil {
		return nil, err
	}
	dividends := make([]Dividend, 0, len(env.Results))
	for _, r := range env.Results {
		dividends = append(dividends, Dividend{
			ExDate:    r.ExDividendDate,
			PayDate:   r.PayDate,
			Amount:    r.CashAmount,
			Frequency: r.Frequency,
		})
	}
	return dividends, nil
}

// Splits returns split history for a ticker.
func (c *Client) Splits(ctx context.Context, ticker string) ([]Split, error) {
	var env struct {
		Results []struct {
			ExecutionDate string  `json:"execution_date"`
			SplitFrom     float64 `json:"split_from"`
			SplitTo       float64 `json:"split_to"`
		} `json:"results"`
	}
	query := url.Values{"ticker": {ticker}}
	if err := c.get(ctx, "/v3/reference/splits", query, &env); err != nil {
		return nil, err
	}
	splits := make([]Split, 0, len(env.Results))
	for _, r := range env.Results {
		splits = append(splits, Split{
			ExecutionDate: r.ExecutionDate,
			SplitFrom:     r.SplitFrom,
			SplitTo:       r.SplitTo,
		})
	}
	return splits, nil
}

// Aggregates returns OHLCV bars between two dates. Timespan is one of
// "day", "week" or "month".
func (c *Client) Aggregates(ctx context.Context, ticker, timespan, from, to string) ([]Bar, error) {
	if timespan == "" {
		timespan = "day"
	}
	var env struct {
		Results []aggregateBar `json:"results"`
	}
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%s/%s",
		url.PathEscape(ticker), url.PathEscape(timespan), url.PathEscape(from), url.PathEscape(to))
	if err := c.get(ctx, path, url.Values{"sort": {"asc"}, "limit": {"5000"}}, &env); err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(env.Results))
	for _, r := range env.Results {
		bars = append(bars, Bar{
			Date:   time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02"),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}
