package metrics

import (
	"context"
	"time"
)

// Collector records what was delivered to the watch.
type Collector interface {
	Record(ctx context.Context, delivery *Delivery) error
	Recent(ctx context.Context, limit int) ([]Delivery, error)
	Close() error
}

// Repository stores deliveries.
type Repository interface {
	Record(delivery *Delivery) error
	Recent(ctx context.Context, limit int) ([]Delivery, error)
	Close() error
}

// Delivery is one message handed to the device channel.
type Delivery struct {
	Timestamp time.Time
	Cycle     string
	Kind      string
	Bytes     int
	Data      *DataFields
	Failed    bool
}

// DataFields are the summary fields of a data message.
type DataFields struct {
	Recency  int
	LastSGV  int
	Trend    int
	Delta    int
	SGVCount int
}
