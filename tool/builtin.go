package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/marketlens/marketagent/marketdata"
)

// MarketData supplies quote, reference and aggregate data for tickers.
// *marketdata.Client satisfies it.
type MarketData interface {
	PreviousClose(ctx context.Context, ticker string) (*marketdata.Quote, error)
	TickerDetails(ctx context.Context, ticker string) (*marketdata.CompanyDetails, error)
	Financials(ctx context.Context, ticker string, limit int) ([]marketdata.FinancialPeriod, error)
	TickerNews(ctx context.Context, ticker string, limit int) ([]marketdata.NewsArticle, error)
	Dividends(ctx context.Context, ticker string, limit int) ([]marketdata.Dividend, error)
	Splits(ctx context.Context, ticker string) ([]marketdata.Split, error)
	Aggregates(ctx context.Context, ticker, timespan, from, to string) ([]marketdata.Bar, error)
}

var _ MarketData = (*marketdata.Client)(nil)

// SentimentPost is one scored social media post.
type SentimentPost struct {
	Platform  string `json:"platform"`
	Content   string `json:"content"`
	Sentiment string `json:"sentiment"`
}

// SentimentReport aggregates social media sentiment for a ticker.
type SentimentReport struct {
	Ticker           string          `json:"ticker"`
	OverallSentiment string          `json:"overall_sentiment"`
	Score            float64         `json:"score"`
	Confidence       float64         `json:"confidence"`
	PostCount        int             `json:"post_count"`
	Sources          map[string]int  `json:"sources"`
	TopPosts         []SentimentPost `json:"top_posts"`
}

// SentimentAnalyzer produces a sentiment report for a ticker. Analysis is
// expected to be slow (scraping plus model inference).
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, ticker string) (*SentimentReport, error)
}

// ForecastPoint is one predicted trading day.
type ForecastPoint struct {
	Date           string  `json:"date"`
	PredictedClose float64 `json:"predicted_close"`
	UpperBound     float64 `json:"upper_bound"`
	LowerBound     float64 `json:"lower_bound"`
}

// Forecast is a multi-day price prediction.
type Forecast struct {
	Ticker      string          `json:"ticker"`
	Predictions []ForecastPoint `json:"predictions"`
	ModelInfo   map[string]any  `json:"model_info,omitempty"`
}

// Forecaster predicts future prices for a ticker.
type Forecaster interface {
	Forecast(ctx context.Context, ticker string) (*Forecast, error)
}

// SearchHit is one semantic search result from the knowledge base.
type SearchHit struct {
	Title          string  `json:"title"`
	Source         string  `json:"source"`
	Date           string  `json:"date"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

// KnowledgeSearcher runs semantic search over indexed articles.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query, ticker string) ([]SearchHit, error)
}

// BuiltinDeps holds the collaborators the builtin tools call into. Nil
// fields skip the tools that depend on them.
type BuiltinDeps struct {
	MarketData MarketData
	Sentiment  SentimentAnalyzer
	Forecaster Forecaster
	Knowledge  KnowledgeSearcher
}

// RegisterBuiltins registers every builtin tool whose collaborator is
// available.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	var tools []Tool
	if deps.MarketData != nil {
		tools = append(tools,
			NewStockQuoteTool(deps.MarketData),
			NewCompanyInfoTool(deps.MarketData),
			NewFinancialsTool(deps.MarketData),
			NewNewsTool(deps.MarketData),
			NewDividendsTool(deps.MarketData),
			NewStockSplitsTool(deps.MarketData),
			NewPriceHistoryTool(deps.MarketData),
		)
	}
	if deps.Knowledge != nil {
		tools = append(tools, NewKnowledgeSearchTool(deps.Knowledge))
	}
	if deps.Sentiment != nil {
		tools = append(tools, NewSentimentTool(deps.Sentiment))
	}
	if deps.Forecaster != nil {
		tools = append(tools, NewPriceForecastTool(deps.Forecaster))
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

const (
	maxDescriptionLen = 500
	maxNewsArticles   = 10
	maxNewsLimit      = 20
	maxTopPosts       = 5
	maxForecastDays   = 10
	maxFinancialsNum  = 4
	maxDividendRows   = 10
	maxSplitRows      = 10
)

func tickerProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Stock ticker symbol, e.g. AAPL",
	}
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return strings.TrimSpace(s)
}

func intArg(args map[string]interface{}, name string, def int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// NewStockQuoteTool returns the get_stock_quote tool.
func NewStockQuoteTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_stock_quote",
		"Get the most recent closing price, open, high, low, and volume for a stock ticker. Use this when the user asks about current price, today's price, or recent trading data.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return md.PreviousClose(ctx, strings.ToUpper(stringArg(args, "ticker")))
		},
	)
}

// NewCompanyInfoTool returns the get_company_info tool.
func NewCompanyInfoTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_company_info",
		"Get detailed company information including name, description, market cap, sector, industry, and exchange. Use this when the user asks about what a company does, its sector, or general company details.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			details, err := md.TickerDetails(ctx, strings.ToUpper(stringArg(args, "ticker")))
			if err != nil {
				return nil, err
			}
			details.Description = truncate(details.Description, maxDescriptionLen)
			return details, nil
		},
	)
}

// NewFinancialsTool returns the get_financials tool.
func NewFinancialsTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_financials",
		"Get recent financial statements including revenue, net income, gross profit, total assets, and liabilities. Returns the last 4 filing periods. Use this for questions about earnings, revenue, profitability, or balance sheet.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ticker := strings.ToUpper(stringArg(args, "ticker"))
			periods, err := md.Financials(ctx, ticker, maxFinancialsNum)
			if err != nil {
				return nil, err
			}
			if len(periods) == 0 {
				return map[string]interface{}{"error": "No financial data available"}, nil
			}
			if len(periods) > maxFinancialsNum {
				periods = periods[:maxFinancialsNum]
			}
			return map[string]interface{}{"ticker": ticker, "periods": periods}, nil
		},
	)
}

// NewNewsTool returns the get_news tool.
func NewNewsTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_news",
		"Get recent news articles about a stock. Returns headlines, sources, dates, and descriptions. Use this when the user asks about recent news, headlines, or events.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Number of articles to return (default 10, max 20)",
				},
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ticker := strings.ToUpper(stringArg(args, "ticker"))
			limit := intArg(args, "limit", maxNewsArticles)
			if limit > maxNewsLimit {
				limit = maxNewsLimit
			}
			articles, err := md.TickerNews(ctx, ticker, limit)
			if err != nil {
				return nil, err
			}
			if len(articles) == 0 {
				return map[string]interface{}{"error": "No news articles available"}, nil
			}
			if len(articles) > maxNewsArticles {
				articles = articles[:maxNewsArticles]
			}
			for i := range articles {
				articles[i].Description = truncate(articles[i].Description, 200)
			}
			return map[string]interface{}{"ticker": ticker, "articles": articles}, nil
		},
	)
}

// NewKnowledgeSearchTool returns the search_knowledge_base tool. Its
// results depend on the free-text query, so the executor is expected to
// exempt it from caching.
func NewKnowledgeSearchTool(ks KnowledgeSearcher) *FunctionTool {
	return NewFunctionTool(
		"search_knowledge_base",
		"Semantic search over previously indexed news articles and research. Use this when the user asks about a specific topic and you need in-depth article content beyond headlines.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language search query",
				},
				"ticker": map[string]interface{}{
					"type":        "string",
					"description": "Stock ticker symbol to filter results",
				},
			},
			"required": []string{"query", "ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ticker := strings.ToUpper(stringArg(args, "ticker"))
			hits, err := ks.Search(ctx, stringArg(args, "query"), ticker)
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return map[string]interface{}{
					"message": "No relevant articles found in knowledge base. Try using get_news for recent headlines.",
				}, nil
			}
			if len(hits) > 5 {
				hits = hits[:5]
			}
			for i := range hits {
				hits[i].Content = truncate(hits[i].Content, maxDescriptionLen)
			}
			return map[string]interface{}{"ticker": ticker, "results": hits}, nil
		},
	)
}

// NewSentimentTool returns the analyze_sentiment tool.
func NewSentimentTool(sa SentimentAnalyzer) *FunctionTool {
	return NewFunctionTool(
		"analyze_sentiment",
		"Analyze social media sentiment for a stock by scraping StockTwits, Reddit, and Twitter posts and running FinBERT analysis. This operation takes 10-30 seconds. Use when the user asks about sentiment, social media buzz, or what people think about a stock.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			report, err := sa.Analyze(ctx, strings.ToUpper(stringArg(args, "ticker")))
			if err != nil {
				return nil, err
			}
			if len(report.TopPosts) > maxTopPosts {
				report.TopPosts = report.TopPosts[:maxTopPosts]
			}
			for i := range report.TopPosts {
				report.TopPosts[i].Content = truncate(report.TopPosts[i].Content, 200)
			}
			return report, nil
		},
	)
}

// NewPriceForecastTool returns the get_price_forecast tool.
func NewPriceForecastTool(f Forecaster) *FunctionTool {
	return NewFunctionTool(
		"get_price_forecast",
		"Get a neural network price forecast for the next 30 trading days. May take 30-60 seconds if the model needs training. Use when the user asks about price predictions or forecasts.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			forecast, err := f.Forecast(ctx, strings.ToUpper(stringArg(args, "ticker")))
			if err != nil {
				return nil, err
			}
			// First days only, to keep model context manageable.
			if len(forecast.Predictions) > maxForecastDays {
				forecast.Predictions = forecast.Predictions[:maxForecastDays]
			}
			return forecast, nil
		},
	)
}

// NewDividendsTool returns the get_dividends tool.
func NewDividendsTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_dividends",
		"Get dividend payment history including ex-dividend dates, pay dates, and amounts. Use when the user asks about dividends, yield, or dividend history.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Number of dividend records to return (default 10)",
				},
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ticker := strings.ToUpper(stringArg(args, "ticker"))
			dividends, err := md.Dividends(ctx, ticker, intArg(args, "limit", maxDividendRows))
			if err != nil {
				return nil, err
			}
			if len(dividends) == 0 {
				return map[string]interface{}{"message": "No dividend data available for this ticker."}, nil
			}
			if len(dividends) > maxDividendRows {
				dividends = dividends[:maxDividendRows]
			}
			return map[string]interface{}{"ticker": ticker, "dividends": dividends}, nil
		},
	)
}

// NewStockSplitsTool returns the get_stock_splits tool.
func NewStockSplitsTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_stock_splits",
		"Get stock split history including execution dates and split ratios. Use when the user asks about stock splits.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ticker := strings.ToUpper(stringArg(args, "ticker"))
			splits, err := md.Splits(ctx, ticker)
			if err != nil {
				return nil, err
			}
			if len(splits) == 0 {
				return map[string]interface{}{"message": "No stock split history found for this ticker."}, nil
			}
			if len(splits) > maxSplitRows {
				splits = splits[:maxSplitRows]
			}
			formatted := make([]map[string]interface{}, 0, len(splits))
			for _, s := range splits {
				formatted = append(formatted, map[string]interface{}{
					"execution_date": s.ExecutionDate,
					"split_from":     s.SplitFrom,
					"split_to":       s.SplitTo,
					"ratio":          splitRatio(s),
				})
			}
			return map[string]interface{}{"ticker": ticker, "splits": formatted}, nil
		},
	)
}

func splitRatio(s marketdata.Split) string {
	from, to := s.SplitFrom, s.SplitTo
	if from == 0 {
		from = 1
	}
	if to == 0 {
		to = 1
	}
	return fmt.Sprintf("%s-for-%s", formatFloat(to), formatFloat(from))
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NewPriceHistoryTool returns the get_price_history tool.
func NewPriceHistoryTool(md MarketData) *FunctionTool {
	return NewFunctionTool(
		"get_price_history",
		"Get historical OHLCV price data for a date range. Use when the user asks about price trends, historical performance, or needs to compare prices between dates.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": tickerProperty(),
				"from_date": map[string]interface{}{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format",
				},
				"to_date": map[string]interface{}{
					"type":        "string",
					"description": "End date in YYYY-MM-DD format",
				},
				"timespan": map[string]interface{}{
					"type":        "string",
					"description": "Time interval for each bar: day, week, or month (default: day)",
				},
			},
			"required": []string{"ticker", "from_date", "to_date"},
		},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ticker := strings.ToUpper(stringArg(args, "ticker"))
			timespan := stringArg(args, "timespan")
			if timespan == "" {
				timespan = "day"
			}
			from := stringArg(args, "from_date")
			to := stringArg(args, "to_date")
			bars, err := md.Aggregates(ctx, ticker, timespan, from, to)
			if err != nil {
				return nil, err
			}
			if len(bars) == 0 {
				return map[string]interface{}{"error": "No price history available for the given date range"}, nil
			}
			return map[string]interface{}{
				"ticker":   ticker,
				"timespan": timespan,
				"from":     from,
				"to":       to,
				"bars":     bars,
				"count":    len(bars),
			}, nil
		},
	)
}
