package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const MaxHistoryPageSize = 100

// -----------------------------
// ACCOUNT
// -----------------------------
func (c *UpbitClient) GetAccounts(ctx context.Context) ([]Account, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil, true)
	if err != nil {
		return nil, err
	}
	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// -----------------------------
// MARKET DATA
// -----------------------------
func (c *UpbitClient) GetMarkets(ctx context.Context) ([]string, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/market/all", nil, false)
	if err != nil {
		return nil, err
	}
	var markets []Market
	if err := json.Unmarshal(raw, &markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	codes := make([]string, 0, len(markets))
	for _, m := range markets {
		codes = append(codes, m.Market)
	}
	return codes, nil
}

func (c *UpbitClient) GetTickers(ctx context.Context, markets []string) ([]Ticker, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	params := url.Values{"markets": {strings.Join(markets, ",")}}
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/ticker", params, false)
	if err != nil {
		return nil, err
	}
	var tickers []Ticker
	if err := json.Unmarshal(raw, &tickers); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	return tickers, nil
}

func (c *UpbitClient) GetCurrentPrice(ctx context.Context, market string) (float64, error) {
	tickers, err := c.GetTickers(ctx, []string{market})
	if err != nil {
		return 0, err
	}
	for _, t := range tickers {
		if t.Market == market {
			return t.TradePrice, nil
		}
	}
	return 0, fmt.Errorf("no ticker for %s", market)
}

// GetCandles returns up to count minute candles, newest first.
func (c *UpbitClient) GetCandles(ctx context.Context, market string, unitMinutes, count int) ([]Candle, error) {
	if unitMinutes <= 0 {
		unitMinutes = 60
	}
	if count <= 0 || count > 200 {
		count = 200
	}
	params := url.Values{
		"market": {market},
		"count":  {strconv.Itoa(count)},
	}
	path := fmt.Sprintf("/v1/candles/minutes/%d", unitMinutes)
	raw, err := c.doRequest(ctx, http.MethodGet, path, params, false)
	if err != nil {
		return nil, err
	}
	var candles []Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	return candles, nil
}

// -----------------------------
// TRADING
// -----------------------------
func (c *UpbitClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderRecord, error) {
	if req.Market == "" || (req.Side != SideBid && req.Side != SideAsk) {
		return nil, fmt.Errorf("invalid order request: market=%q side=%q", req.Market, req.Side)
	}
	params := url.Values{
		"market":   {req.Market},
		"side":     {req.Side},
		"ord_type": {req.OrdType},
	}
	if req.Volume != "" {
		params.Set("volume", req.Volume)
	}
	if req.Price != "" {
		params.Set("price", req.Price)
	}
	if req.Identifier != "" {
		params.Set("identifier", req.Identifier)
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		return nil, err
	}
	return decodeOrder(raw)
}

func (c *UpbitClient) GetOrder(ctx context.Context, orderUUID string) (*OrderRecord, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/order", url.Values{"uuid": {orderUUID}}, true)
	if err != nil {
		return nil, err
	}
	return decodeOrder(raw)
}

func (c *UpbitClient) CancelOrder(ctx context.Context, orderUUID string) (*OrderRecord, error) {
	raw, err := c.doRequest(ctx, http.MethodDelete, "/v1/order", url.Values{"uuid": {orderUUID}}, true)
	if err != nil {
		return nil, err
	}
	return decodeOrder(raw)
}

// GetOrderHistory fetches one page of orders. Each record keeps its raw JSON.
func (c *UpbitClient) GetOrderHistory(ctx context.Context, q OrderHistoryQuery) ([]OrderRecord, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > MaxHistoryPageSize {
		q.Limit = MaxHistoryPageSize
	}
	if q.OrderBy == "" {
		q.OrderBy = "desc"
	}
	params := url.Values{
		"page":     {strconv.Itoa(q.Page)},
		"limit":    {strconv.Itoa(q.Limit)},
		"order_by": {q.OrderBy},
	}
	if q.Market != "" {
		params.Set("market", q.Market)
	}
	for _, s := range q.States {
		params.Add("states[]", s)
	}

	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/orders", params, true)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode order history: %w", err)
	}
	records := make([]OrderRecord, 0, len(items))
	for _, item := range items {
		var rec OrderRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			// keep the payload so the caller can count it as a data error
			records = append(records, OrderRecord{Raw: item})
			continue
		}
		rec.Raw = item
		records = append(records, rec)
	}
	return records, nil
}

func decodeOrder(raw []byte) (*OrderRecord, error) {
	var rec OrderRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if rec.UUID == "" {
		return nil, errors.New("order response without uuid")
	}
	rec.Raw = raw
	return &rec, nil
}
