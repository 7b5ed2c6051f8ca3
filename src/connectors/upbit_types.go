package connectors

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const (
	SideBid = "bid"
	SideAsk = "ask"

	OrdTypeLimit  = "limit"
	OrdTypePrice  = "price"  // market buy by funds
	OrdTypeMarket = "market" // market sell by volume

	OrderStateWait   = "wait"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

type Account struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

// Holding returns balance plus locked funds.
func (a Account) Holding() decimal.Decimal {
	return a.Balance.Add(a.Locked)
}

type Market struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

type Ticker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	Timestamp        int64   `json:"timestamp"`
}

type Candle struct {
	Market       string  `json:"market"`
	CandleTime   string  `json:"candle_date_time_utc"`
	OpeningPrice float64 `json:"opening_price"`
	HighPrice    float64 `json:"high_price"`
	LowPrice     float64 `json:"low_price"`
	TradePrice   float64 `json:"trade_price"`
	Volume       float64 `json:"candle_acc_trade_volume"`
	Timestamp    int64   `json:"timestamp"`
	UnitMinutes  int     `json:"unit"`
}

type OrderRequest struct {
	Market     string
	Side       string
	OrdType    string
	Volume     string
	Price      string
	Identifier string
}

type Trade struct {
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Funds     decimal.Decimal `json:"funds"`
	CreatedAt string          `json:"created_at"`
}

// OrderRecord is one order as reported by the exchange.
type OrderRecord struct {
	UUID            string          `json:"uuid"`
	Side            string          `json:"side"`
	OrdType         string          `json:"ord_type"`
	Price           decimal.Decimal `json:"price"`
	State           string          `json:"state"`
	Market          string          `json:"market"`
	CreatedAt       string          `json:"created_at"`
	Volume          decimal.Decimal `json:"volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
	PaidFee         decimal.Decimal `json:"paid_fee"`
	Locked          decimal.Decimal `json:"locked"`
	ExecutedVolume  decimal.Decimal `json:"executed_volume"`
	ExecutedFunds   decimal.Decimal `json:"executed_funds"`
	TradesCount     int             `json:"trades_count"`
	Trades          []Trade         `json:"trades,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Funds returns executed funds, summing trades when the field is absent.
func (o OrderRecord) Funds() decimal.Decimal {
	if !o.ExecutedFunds.IsZero() {
		return o.ExecutedFunds
	}
	total := decimal.Zero
	for _, t := range o.Trades {
		if !t.Funds.IsZero() {
			total = total.Add(t.Funds)
		} else {
			total = total.Add(t.Price.Mul(t.Volume))
		}
	}
	return total
}

// AvgPrice returns the volume-weighted execution price.
func (o OrderRecord) AvgPrice() decimal.Decimal {
	if o.ExecutedVolume.IsZero() {
		return decimal.Zero
	}
	return o.Funds().Div(o.ExecutedVolume)
}

type OrderHistoryQuery struct {
	Market  string
	States  []string
	Page    int
	Limit   int
	OrderBy string // "desc" returns newest first
}
