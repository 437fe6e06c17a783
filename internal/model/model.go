// Package model defines the wire and domain types flowing through the
// ingestion pipeline: raw log records, validated order records, rejections,
// and commit batches.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state carried by an order event.
type OrderStatus string

const (
	StatusPlaced         OrderStatus = "PLACED"
	StatusPreparing      OrderStatus = "PREPARING"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// ValidStatus reports whether s is one of the enumerated order statuses.
func ValidStatus(s OrderStatus) bool {
	switch s {
	case StatusPlaced, StatusPreparing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// RawEvent is a single record pulled from the partitioned event log.
// It is immutable once produced by the reader.
type RawEvent struct {
	Partition   int32
	Offset      int64
	Payload     []byte
	ArrivalTime time.Time
}

// OrderRecord is a validated order event ready for warehouse commit.
// One RawEvent yields zero or one OrderRecord.
type OrderRecord struct {
	OrderID      string
	CustomerID   string
	RestaurantID string
	RiderID      string // optional, empty when unassigned
	CuisineType  string
	OrderValue   decimal.Decimal
	Status       OrderStatus
	PlacedAt     time.Time
	DeliveredAt  *time.Time // nil until a DELIVERED event arrives

	// Ingestion metadata, carried into the fact table for audit.
	SourcePartition int32
	SourceOffset    int64
}

// DedupKey is the identity under which redeliveries are suppressed. Status is
// part of the key so a lifecycle transition (PLACED then DELIVERED) for one
// order flows through while an exact redelivery is dropped.
func (r *OrderRecord) DedupKey() string {
	return r.OrderID + "/" + string(r.Status)
}

// RejectReason classifies why a raw record failed validation.
type RejectReason string

const (
	ReasonMalformedPayload RejectReason = "malformed_payload"
	ReasonMissingOrderID   RejectReason = "missing_order_id"
	ReasonMissingCustomer  RejectReason = "missing_customer_id"
	ReasonMissingRestaurant RejectReason = "missing_restaurant_id"
	ReasonMissingCuisine   RejectReason = "missing_cuisine_type"
	ReasonMissingValue     RejectReason = "missing_order_value"
	ReasonNonPositiveValue RejectReason = "nonpositive_order_value"
	ReasonMissingStatus    RejectReason = "missing_order_status"
	ReasonUnknownStatus    RejectReason = "unknown_order_status"
	ReasonMissingPlacedAt  RejectReason = "missing_placed_at"
	ReasonBadPlacedAt      RejectReason = "bad_placed_at"
	ReasonFuturePlacedAt   RejectReason = "future_placed_at"
	ReasonBadDeliveredAt   RejectReason = "bad_delivered_at"
)

// RejectedRecord is the terminal form of a record that failed validation.
// It is logged and counted, never retried.
type RejectedRecord struct {
	Partition  int32
	Offset     int64
	Reason     RejectReason
	RawPayload []byte
}

// CommitBatch is an ordered run of validated, deduplicated records destined
// for a single warehouse transaction. It is owned exclusively by the batch
// writer for the duration of a commit attempt and is immutable once formed.
type CommitBatch struct {
	Partition   int32
	StartOffset int64
	EndOffset   int64
	Records     []OrderRecord
	FormedAt    time.Time
}

// Empty reports whether the batch carries no records.
func (b *CommitBatch) Empty() bool {
	return b == nil || len(b.Records) == 0
}
