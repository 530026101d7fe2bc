// Package consumer drains the event topic into a log sink.
package consumer

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Sink stores one event line. *loki.Client implements it.
type Sink interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

// Consumer copies messages from a MessageReader to a Sink. A message is
// committed after one push attempt whether or not the push succeeded.
type Consumer struct {
	reader      MessageReader
	sink        Sink
	pushTimeout time.Duration
	retryDelay  time.Duration
}

// New returns a Consumer. pushTimeout bounds each sink call; zero means 10s.
func New(reader MessageReader, sink Sink, pushTimeout time.Duration) *Consumer {
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	return &Consumer{reader: reader, sink: sink, pushTimeout: pushTimeout, retryDelay: time.Second}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("consumer: kafka fetch error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	pushCtx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()
	if err := c.sink.PushEventJSON(pushCtx, msg.Value); err != nil {
		log.Printf("consumer: push for %s (offset %d) failed: %v", msg.Key, msg.Offset, err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.Printf("consumer: commit offset %d: %v", msg.Offset, err)
	}
}
