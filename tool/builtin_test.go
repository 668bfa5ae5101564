package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketagent/marketdata"
)

type fakeMarketData struct {
	lastTicker string
	news       []marketdata.NewsArticle
	dividends  []marketdata.Dividend
	splits     []marketdata.Split
	bars       []marketdata.Bar
	periods    []marketdata.FinancialPeriod
}

func (f *fakeMarketData) PreviousClose(_ context.Context, ticker string) (*marketdata.Quote, error) {
	f.lastTicker = ticker
	return &marketdata.Quote{Ticker: ticker, Close: 187.4, Open: 185.1, Volume: 1000}, nil
}

func (f *fakeMarketData) TickerDetails(_ context.Context, ticker string) (*marketdata.CompanyDetails, error) {
	f.lastTicker = ticker
	return &marketdata.CompanyDetails{
		Ticker:      ticker,
		Name:        "Apple Inc.",
		Description: strings.Repeat("x", 800),
		MarketCap:   2.9e12,
	}, nil
}

func (f *fakeMarketData) Financials(_ context.Context, ticker string, _ int) ([]marketdata.FinancialPeriod, error) {
	f.lastTicker = ticker
	return f.periods, nil
}

func (f *fakeMarketData) TickerNews(_ context.Context, ticker string, limit int) ([]marketdata.NewsArticle, error) {
	f.lastTicker = ticker
	if limit < len(f.news) {
		return f.news[:limit], nil
	}
	return f.news, nil
}

func (f *fakeMarketData) Dividends(_ context.Context, ticker string, _ int) ([]marketdata.Dividend, error) {
	f.lastTicker = ticker
	return f.dividends, nil
}

func (f *fakeMarketData) Splits(_ context.Context, ticker string) ([]marketdata.Split, error) {
	f.lastTicker = ticker
	return f.splits, nil
}

func (f *fakeMarketData) Aggregates(_ context.Context, ticker, _, _, _ string) ([]marketdata.Bar, error) {
	f.lastTicker = ticker
	return f.bars, nil
}

type fakeSentiment struct{ report *SentimentReport }

func (f *fakeSentiment) Analyze(_ context.Context, ticker string) (*SentimentReport, error) {
	f.report.Ticker = ticker
	return f.report, nil
}

type fakeForecaster struct{ forecast *Forecast }

func (f *fakeForecaster) Forecast(_ context.Context, ticker string) (*Forecast, error) {
	f.forecast.Ticker = ticker
	return f.forecast, nil
}

type fakeKnowledge struct{ hits []SearchHit }

func (f *fakeKnowledge) Search(_ context.Context, _, _ string) ([]SearchHit, error) {
	return f.hits, nil
}

func TestRegisterBuiltinsSkipsNilCollaborators(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinDeps{MarketData: &fakeMarketData{}}))

	names := reg.Names()
	assert.Len(t, names, 7)
	assert.NotContains(t, names, "analyze_sentiment")
	assert.NotContains(t, names, "get_price_forecast")
	assert.NotContains(t, names, "search_knowledge_base")
}

func TestRegisterBuiltinsFullSet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinDeps{
		MarketData: &fakeMarketData{},
		Sentiment:  &fakeSentiment{report: &SentimentReport{}},
		Forecaster: &fakeForecaster{forecast: &Forecast{}},
		Knowledge:  &fakeKnowledge{},
	}))

	assert.Equal(t, []string{
		"analyze_sentiment",
		"get_company_info",
		"get_dividends",
		"get_financials",
		"get_news",
		"get_price_forecast",
		"get_price_history",
		"get_stock_quote",
		"get_stock_splits",
		"search_knowledge_base",
	}, reg.Names())
}

func TestStockQuoteToolUppercasesTicker(t *testing.T) {
	md := &fakeMarketData{}
	ft := NewStockQuoteTool(md)

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "aapl"})
	require.NoError(t, err)

	assert.Equal(t, "AAPL", md.lastTicker)
	quote := result.(*marketdata.Quote)
	assert.Equal(t, 187.4, quote.Close)
}

func TestCompanyInfoToolTruncatesDescription(t *testing.T) {
	ft := NewCompanyInfoTool(&fakeMarketData{})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)

	details := result.(*marketdata.CompanyDetails)
	assert.Len(t, details.Description, maxDescriptionLen)
}

func TestFinancialsToolLimitsPeriods(t *testing.T) {
	periods := make([]marketdata.FinancialPeriod, 6)
	for i := range periods {
		periods[i].Period = "Q"
	}
	ft := NewFinancialsTool(&fakeMarketData{periods: periods})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)

	payload := result.(map[string]any)
	assert.Len(t, payload["periods"], maxFinancialsNum)
}

func TestFinancialsToolEmpty(t *testing.T) {
	ft := NewFinancialsTool(&fakeMarketData{})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)

	payload := result.(map[string]any)
	assert.Contains(t, payload, "error")
}

func TestNewsToolCapsLimit(t *testing.T) {
	news := make([]marketdata.NewsArticle, 25)
	for i := range news {
		news[i].Title = "headline"
		news[i].Description = strings.Repeat("d", 400)
	}
	ft := NewNewsTool(&fakeMarketData{news: news})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "AAPL", "limit": 50})
	require.NoError(t, err)

	payload := result.(map[string]any)
	articles := payload["articles"].([]marketdata.NewsArticle)
	assert.Len(t, articles, maxNewsArticles)
	assert.Len(t, articles[0].Description, 200)
}

func TestKnowledgeSearchToolEmpty(t *testing.T) {
	ft := NewKnowledgeSearchTool(&fakeKnowledge{})

	result, err := ft.Call(context.Background(), map[string]any{"query": "chip demand", "ticker": "NVDA"})
	require.NoError(t, err)

	payload := result.(map[string]any)
	assert.Contains(t, payload["message"], "No relevant articles")
}

func TestSentimentToolTrimsPosts(t *testing.T) {
	posts := make([]SentimentPost, 8)
	for i := range posts {
		posts[i].Content = strings.Repeat("p", 300)
	}
	ft := NewSentimentTool(&fakeSentiment{report: &SentimentReport{
		OverallSentiment: "bullish",
		TopPosts:         posts,
	}})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "TSLA"})
	require.NoError(t, err)

	report := result.(*SentimentReport)
	assert.Equal(t, "TSLA", report.Ticker)
	assert.Len(t, report.TopPosts, maxTopPosts)
	assert.Len(t, report.TopPosts[0].Content, 200)
}

func TestPriceForecastToolTrimsHorizon(t *testing.T) {
	points := make([]ForecastPoint, 30)
	ft := NewPriceForecastTool(&fakeForecaster{forecast: &Forecast{Predictions: points}})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)

	forecast := result.(*Forecast)
	assert.Len(t, forecast.Predictions, maxForecastDays)
}

func TestStockSplitsToolFormatsRatio(t *testing.T) {
	ft := NewStockSplitsTool(&fakeMarketData{splits: []marketdata.Split{
		{ExecutionDate: "2020-08-31", SplitFrom: 1, SplitTo: 4},
	}})

	result, err := ft.Call(context.Background(), map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)

	payload := result.(map[string]any)
	splits := payload["splits"].([]map[string]any)
	require.Len(t, splits, 1)
	assert.Equal(t, "4-for-1", splits[0]["ratio"])
}

func TestPriceHistoryToolDefaultsTimespan(t *testing.T) {
	ft := NewPriceHistoryTool(&fakeMarketData{bars: []marketdata.Bar{
		{Date: "2025-01-02", Close: 100},
	}})

	result, err := ft.Call(context.Background(), map[string]any{
		"ticker":    "AAPL",
		"from_date": "2025-01-01",
		"to_date":   "2025-02-01",
	})
	require.NoError(t, err)

	payload := result.(map[string]any)
	assert.Equal(t, "day", payload["timespan"])
	assert.Equal(t, 1, payload["count"])
}

func TestPriceHistoryToolEmptyRange(t *testing.T) {
	ft := NewPriceHistoryTool(&fakeMarketData{})

	result, err := ft.Call(context.Background(), map[string]any{
		"ticker":    "AAPL",
		"from_date": "2025-01-01",
		"to_date":   "2025-01-02",
	})
	require.NoError(t, err)

	payload := result.(map[string]any)
	assert.Contains(t, payload, "error")
}
