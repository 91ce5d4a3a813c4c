// Package sink emits crawled records.
package sink

import (
	"context"

	"github.com/Sternrassler/crawlkit/pkg/record"
)

// Sink receives the final deduplicated records of a target.
type Sink interface {
	Write(ctx context.Context, records []record.Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, records []record.Record) error

// Write calls f(ctx, records).
func (f SinkFunc) Write(ctx context.Context, records []record.Record) error {
	return f(ctx, records)
}

// Collector keeps written records in memory.
type Collector struct {
	Records []record.Record
}

// Write implements Sink.
func (c *Collector) Write(_ context.Context, records []record.Record) error {
	for _, r := range records {
		c.Records = append(c.Records, r.Clone())
	}
	return nil
}
