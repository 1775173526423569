package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
	"github.com/sawpanic/ragpatterns/internal/retrieval"
)

// currentStateParams mirrors the "current_state" object spec.md §6.1
// documents. Required fields have no `omitempty`-equivalent tag meaning —
// presence is checked explicitly in validate, not inferred from the zero
// value, since 0.0 is a legal price... except price must be positive, so a
// missing price and an invalid price both surface as -32602 either way.
type currentStateParams struct {
	Price      *float64 `json:"price"`
	RSI7       *float64 `json:"rsi_7"`
	RSI14      *float64 `json:"rsi_14"`
	MACD       *float64 `json:"macd"`
	EMA20      *float64 `json:"ema_20"`
	EMA20_4h   *float64 `json:"ema_20_4h"`
	EMA50_4h   *float64 `json:"ema_50_4h"`
	FundingRate          *float64 `json:"funding_rate"`
	OpenInterestLatest   *float64 `json:"open_interest_latest"`
	OpenInterestAvg24h   *float64 `json:"open_interest_avg_24h"`
	PriceChange1h        *float64 `json:"price_change_1h"`
	PriceChange4h        *float64 `json:"price_change_4h"`
}

// requiredFields lists the current_state fields spec.md §6.1 shows without
// a "// optional" comment, in the order they should be checked so the
// first missing field is always reported (S4: "data.field =
// current_state.ema_20_4h").
var requiredFields = []struct {
	name string
	get  func(currentStateParams) *float64
}{
	{"price", func(c currentStateParams) *float64 { return c.Price }},
	{"rsi_7", func(c currentStateParams) *float64 { return c.RSI7 }},
	{"rsi_14", func(c currentStateParams) *float64 { return c.RSI14 }},
	{"macd", func(c currentStateParams) *float64 { return c.MACD }},
	{"ema_20", func(c currentStateParams) *float64 { return c.EMA20 }},
	{"ema_20_4h", func(c currentStateParams) *float64 { return c.EMA20_4h }},
	{"ema_50_4h", func(c currentStateParams) *float64 { return c.EMA50_4h }},
	{"funding_rate", func(c currentStateParams) *float64 { return c.FundingRate }},
	{"open_interest_latest", func(c currentStateParams) *float64 { return c.OpenInterestLatest }},
	{"open_interest_avg_24h", func(c currentStateParams) *float64 { return c.OpenInterestAvg24h }},
}

type queryConfigParams struct {
	LookbackDays         *int  `json:"lookback_days"`
	TopK                 *int  `json:"top_k"`
	MinSimilarity        *float64 `json:"min_similarity"`
	IncludeRegimeFilters *bool `json:"include_regime_filters"`
}

type queryPatternsParams struct {
	Symbol       string              `json:"symbol"`
	Timestamp    int64               `json:"timestamp"`
	CurrentState currentStateParams  `json:"current_state"`
	QueryConfig  *queryConfigParams  `json:"query_config"`
}

// fieldError is returned by parsing/validation helpers so the handler can
// fill a -32602 response's `data.field` exactly (spec.md §4.I/§8 S4).
type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string { return fmt.Sprintf("%s: %s", e.field, e.msg) }

// parseAndValidate decodes raw into a retrieval.Query, enforcing every
// constraint spec.md §4.I documents for rag.query_patterns. requiredSuffix
// is the server-configured symbol suffix (default "USDT").
func parseAndValidate(raw json.RawMessage, requiredSuffix string) (retrieval.Query, *fieldError) {
	var p queryPatternsParams
	if len(raw) == 0 {
		return retrieval.Query{}, &fieldError{field: "params", msg: "missing"}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return retrieval.Query{}, &fieldError{field: "params", msg: "not an object"}
	}

	if err := validateSymbol(p.Symbol, requiredSuffix); err != nil {
		return retrieval.Query{}, err
	}
	if p.Timestamp <= 0 {
		return retrieval.Query{}, &fieldError{field: "timestamp", msg: "must be a positive integer"}
	}

	state, err := buildCurrentState(p.Symbol, p.Timestamp, p.CurrentState)
	if err != nil {
		return retrieval.Query{}, err
	}

	cfg := retrieval.DefaultQueryConfig()
	if p.QueryConfig != nil {
		if err := applyQueryConfig(&cfg, p.QueryConfig); err != nil {
			return retrieval.Query{}, err
		}
	}

	return retrieval.Query{
		Symbol:       p.Symbol,
		TimestampMs:  p.Timestamp,
		CurrentState: state,
		Config:       cfg,
	}, nil
}

func validateSymbol(symbol, requiredSuffix string) *fieldError {
	if symbol == "" {
		return &fieldError{field: "symbol", msg: "required"}
	}
	for _, r := range symbol {
		upperAlnum := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !upperAlnum {
			return &fieldError{field: "symbol", msg: "must be uppercase letters and digits only"}
		}
	}
	if requiredSuffix != "" && !strings.HasSuffix(symbol, requiredSuffix) {
		return &fieldError{field: "symbol", msg: fmt.Sprintf("must end with %s", requiredSuffix)}
	}
	return nil
}

func buildCurrentState(symbol string, timestampMs int64, c currentStateParams) (snapshot.Snapshot, *fieldError) {
	for _, f := range requiredFields {
		if f.get(c) == nil {
			return snapshot.Snapshot{}, &fieldError{field: "current_state." + f.name, msg: "required"}
		}
	}
	if *c.Price <= 0 {
		return snapshot.Snapshot{}, &fieldError{field: "current_state.price", msg: "must be positive"}
	}

	s := snapshot.Snapshot{
		Symbol:             symbol,
		TimestampMs:        timestampMs,
		Price:              *c.Price,
		RSI7:               *c.RSI7,
		RSI14:              *c.RSI14,
		MACD:               *c.MACD,
		EMA20:              *c.EMA20,
		EMA20_4h:           *c.EMA20_4h,
		EMA50_4h:           *c.EMA50_4h,
		FundingRate:        *c.FundingRate,
		OpenInterestLatest: *c.OpenInterestLatest,
		OpenInterestAvg24h: *c.OpenInterestAvg24h,
		PriceChange1h:      c.PriceChange1h,
		PriceChange4h:      c.PriceChange4h,
	}
	return s, nil
}

func applyQueryConfig(cfg *retrieval.QueryConfig, p *queryConfigParams) *fieldError {
	if p.LookbackDays != nil {
		if *p.LookbackDays < 1 || *p.LookbackDays > 365 {
			return &fieldError{field: "query_config.lookback_days", msg: "must be in [1, 365]"}
		}
		cfg.LookbackDays = *p.LookbackDays
	}
	if p.TopK != nil {
		if *p.TopK < 1 || *p.TopK > 50 {
			return &fieldError{field: "query_config.top_k", msg: "must be in [1, 50]"}
		}
		cfg.TopK = *p.TopK
	}
	if p.MinSimilarity != nil {
		if *p.MinSimilarity < 0 || *p.MinSimilarity > 1 {
			return &fieldError{field: "query_config.min_similarity", msg: "must be in [0, 1]"}
		}
		cfg.MinSimilarity = *p.MinSimilarity
	}
	if p.IncludeRegimeFilters != nil {
		cfg.IncludeRegimeFilters = *p.IncludeRegimeFilters
	}
	return nil
}
