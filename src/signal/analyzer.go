// Package signal turns a price series into a buy/sell/hold call.
// Analyze is pure: no I/O, no state.
package signal

import (
	"fmt"
	"math"
	"strings"
)

type Signal string

const (
	Buy  Signal = "buy"
	Sell Signal = "sell"
	Hold Signal = "hold"
)

const (
	MinHistory = 20

	shortPeriod  = 5
	mediumPeriod = 20
	rsiPeriod    = 14

	rsiOverbought = 70.0
	rsiOversold   = 30.0

	buyScale  = 4.0
	sellScale = 5.0
	threshold = 3
)

type Indicators struct {
	ShortMA  float64 `json:"short_ma"`
	MediumMA float64 `json:"medium_ma"`
	RSI      float64 `json:"rsi"`
	MACD     float64 `json:"macd"`
}

type Result struct {
	Market     string     `json:"market"`
	Signal     Signal     `json:"signal"`
	Confidence float64    `json:"confidence"`
	Indicators Indicators `json:"indicators"`
	Reason     string     `json:"reason"`
}

// Analyze scores history (oldest first) and the current price.
// Fewer than MinHistory points yields hold with zero confidence.
func Analyze(market string, currentPrice float64, history []float64) Result {
	if len(history) < MinHistory {
		return Result{Market: market, Signal: Hold, Confidence: 0, Reason: "insufficient data"}
	}
	for _, p := range history {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return Result{Market: market, Signal: Hold, Confidence: 0, Reason: "invalid price data"}
		}
	}

	ind := Indicators{
		ShortMA:  SMA(history, shortPeriod),
		MediumMA: SMA(history, mediumPeriod),
		RSI:      RSI(history, rsiPeriod),
		MACD:     MACD(history),
	}

	var buyScore, sellScore int
	var buyWhy, sellWhy []string

	if ind.ShortMA > ind.MediumMA {
		buyScore++
		buyWhy = append(buyWhy, "short MA above medium MA")
	} else if ind.ShortMA < ind.MediumMA {
		sellScore++
		sellWhy = append(sellWhy, "short MA below medium MA")
	}

	if currentPrice > ind.ShortMA {
		buyScore++
		buyWhy = append(buyWhy, "price above short MA")
	} else if currentPrice < ind.ShortMA {
		sellScore++
		sellWhy = append(sellWhy, "price below short MA")
	}

	if ind.MACD > 0 {
		buyScore++
		buyWhy = append(buyWhy, "MACD positive")
	} else if ind.MACD < 0 {
		sellScore++
		sellWhy = append(sellWhy, "MACD negative")
	}

	if ind.RSI < rsiOversold {
		buyScore++
		buyWhy = append(buyWhy, fmt.Sprintf("RSI oversold (%.1f)", ind.RSI))
	} else if ind.RSI > rsiOverbought {
		sellScore += 2
		sellWhy = append(sellWhy, fmt.Sprintf("RSI overbought (%.1f)", ind.RSI))
	}

	buyConf := float64(buyScore) / buyScale
	sellConf := float64(sellScore) / sellScale

	res := Result{Market: market, Indicators: ind}
	switch {
	case buyScore >= threshold && buyConf >= sellConf:
		res.Signal = Buy
		res.Confidence = buyConf
		res.Reason = strings.Join(buyWhy, ", ")
	case sellScore >= threshold:
		res.Signal = Sell
		res.Confidence = sellConf
		res.Reason = strings.Join(sellWhy, ", ")
	default:
		res.Signal = Hold
		res.Confidence = math.Max(buyConf, sellConf)
		res.Reason = fmt.Sprintf("no consensus (buy %d/4, sell %d/5)", buyScore, sellScore)
	}
	return res
}
