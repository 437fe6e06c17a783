// Package validate parses raw event payloads and checks them against the
// order wire schema. Validation never fails the pipeline: every input maps to
// either an OrderRecord or a RejectedRecord with a specific reason.
package validate

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tasteflow/order-ingester/internal/model"
)

// orderPayload mirrors the wire schema for an incoming order event.
// OrderValue is a pointer so a missing field is distinguishable from zero;
// decimal accepts both quoted and bare numbers on the wire.
type orderPayload struct {
	OrderID      string           `json:"order_id"`
	CustomerID   string           `json:"customer_id"`
	RestaurantID string           `json:"restaurant_id"`
	RiderID      string           `json:"rider_id"`
	CuisineType  string           `json:"cuisine_type"`
	OrderValue   *decimal.Decimal `json:"order_value"`
	OrderStatus  string           `json:"order_status"`
	PlacedAt     string           `json:"placed_at"`
	DeliveredAt  string           `json:"delivered_at"`
}

// Validator applies schema and range checks to raw events.
type Validator struct {
	// SkewTolerance is how far in the future placed_at may lie before the
	// record is rejected, to absorb producer clock skew.
	SkewTolerance time.Duration

	now func() time.Time
}

// New creates a validator with the given clock-skew tolerance.
func New(skewTolerance time.Duration) *Validator {
	return &Validator{
		SkewTolerance: skewTolerance,
		now:           time.Now,
	}
}

// Validate classifies a raw event. Exactly one of the two results is non-nil.
func (v *Validator) Validate(ev model.RawEvent) (*model.OrderRecord, *model.RejectedRecord) {
	var p orderPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, v.reject(ev, model.ReasonMalformedPayload)
	}

	switch {
	case p.OrderID == "":
		return nil, v.reject(ev, model.ReasonMissingOrderID)
	case p.CustomerID == "":
		return nil, v.reject(ev, model.ReasonMissingCustomer)
	case p.RestaurantID == "":
		return nil, v.reject(ev, model.ReasonMissingRestaurant)
	case p.CuisineType == "":
		return nil, v.reject(ev, model.ReasonMissingCuisine)
	}

	if p.OrderValue == nil {
		return nil, v.reject(ev, model.ReasonMissingValue)
	}
	value := *p.OrderValue
	if !value.IsPositive() {
		return nil, v.reject(ev, model.ReasonNonPositiveValue)
	}

	if p.OrderStatus == "" {
		return nil, v.reject(ev, model.ReasonMissingStatus)
	}
	status := model.OrderStatus(p.OrderStatus)
	if !model.ValidStatus(status) {
		return nil, v.reject(ev, model.ReasonUnknownStatus)
	}

	if p.PlacedAt == "" {
		return nil, v.reject(ev, model.ReasonMissingPlacedAt)
	}
	placedAt, err := time.Parse(time.RFC3339, p.PlacedAt)
	if err != nil {
		return nil, v.reject(ev, model.ReasonBadPlacedAt)
	}
	if placedAt.After(v.now().Add(v.SkewTolerance)) {
		return nil, v.reject(ev, model.ReasonFuturePlacedAt)
	}

	var deliveredAt *time.Time
	if p.DeliveredAt != "" {
		t, err := time.Parse(time.RFC3339, p.DeliveredAt)
		if err != nil {
			return nil, v.reject(ev, model.ReasonBadDeliveredAt)
		}
		deliveredAt = &t
	}

	return &model.OrderRecord{
		OrderID:         p.OrderID,
		CustomerID:      p.CustomerID,
		RestaurantID:    p.RestaurantID,
		RiderID:         p.RiderID,
		CuisineType:     p.CuisineType,
		OrderValue:      value,
		Status:          status,
		PlacedAt:        placedAt,
		DeliveredAt:     deliveredAt,
		SourcePartition: ev.Partition,
		SourceOffset:    ev.Offset,
	}, nil
}

func (v *Validator) reject(ev model.RawEvent, reason model.RejectReason) *model.RejectedRecord {
	return &model.RejectedRecord{
		Partition:  ev.Partition,
		Offset:     ev.Offset,
		Reason:     reason,
		RawPayload: ev.Payload,
	}
}
