package mapper

import (
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"coinpulse/src/connectors"
	"coinpulse/src/model"
)

var ErrMalformedOrder = errors.New("malformed order record")

// exchange timestamps carry an offset, e.g. 2024-03-01T10:00:00+09:00
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05"}

func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

func mapSide(side string) (string, error) {
	switch side {
	case connectors.SideBid:
		return model.OrderSideBuy, nil
	case connectors.SideAsk:
		return model.OrderSideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", side)
}

func mapState(state string) (string, error) {
	switch state {
	case connectors.OrderStateWait, "watch":
		return model.OrderStateWait, nil
	case connectors.OrderStateDone:
		return model.OrderStateDone, nil
	case connectors.OrderStateCancel:
		return model.OrderStateCancelled, nil
	}
	return "", fmt.Errorf("unknown state %q", state)
}

// UpbitOrderToLedger converts one exchange order record into a ledger row for userID.
// Any unusable field makes the whole record a data error wrapping ErrMalformedOrder.
func UpbitOrderToLedger(rec connectors.OrderRecord, userID uint) (model.Order, error) {
	if rec.UUID == "" {
		return model.Order{}, fmt.Errorf("%w: missing uuid", ErrMalformedOrder)
	}
	if rec.Market == "" {
		return model.Order{}, fmt.Errorf("%w: order %s has no market", ErrMalformedOrder, rec.UUID)
	}

	side, err := mapSide(rec.Side)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: order %s: %v", ErrMalformedOrder, rec.UUID, err)
	}
	state, err := mapState(rec.State)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: order %s: %v", ErrMalformedOrder, rec.UUID, err)
	}
	orderedAt, err := parseTime(rec.CreatedAt)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: order %s: %v", ErrMalformedOrder, rec.UUID, err)
	}

	order := model.Order{
		UserID:         userID,
		OrderUUID:      rec.UUID,
		Market:         rec.Market,
		Side:           side,
		OrderType:      rec.OrdType,
		Price:          rec.Price,
		Volume:         rec.Volume,
		ExecutedVolume: rec.ExecutedVolume,
		ExecutedFunds:  rec.Funds(),
		PaidFee:        rec.PaidFee,
		State:          state,
		OrderedAt:      orderedAt,
		RawPayload:     string(rec.Raw),
	}

	if !rec.ExecutedVolume.IsZero() {
		executedAt := orderedAt
		for _, tr := range rec.Trades {
			if t, err := parseTime(tr.CreatedAt); err == nil && t.After(executedAt) {
				executedAt = t
			}
		}
		order.ExecutedAt = &executedAt
	}

	logger.WithFields(map[string]interface{}{
		"mapper":     "UpbitOrderToLedger",
		"user_id":    userID,
		"order_uuid": rec.UUID,
		"market":     rec.Market,
		"state":      state,
	}).Debug("exchange order mapped to ledger row")

	return order, nil
}
