package graphql

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// SubscriptionConfig configures the event stream behind a subscription field.
// Exactly one of Events or Redis is expected to be set.
type SubscriptionConfig struct {
	// Events is a list of events to stream to the client.
	Events []EventConfig `json:"events,omitempty" yaml:"events,omitempty"`
	// Timing configures the timing behavior for events.
	Timing *TimingConfig `json:"timing,omitempty" yaml:"timing,omitempty"`
	// Redis streams messages published on a Redis channel.
	Redis *RedisSourceConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
	// Filter is an expr-lang boolean expression evaluated for every event with
	// "args" (field arguments) and "data" (event payload) in scope. Events for
	// which it is false are skipped.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// EventConfig configures a single subscription event.
type EventConfig struct {
	// Data is the event payload to send.
	Data interface{} `json:"data" yaml:"data"`
	// Delay is the delay before sending this event (e.g., "100ms", "2s").
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Error ends the stream with this message instead of sending data.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// TimingConfig configures timing behavior for subscription events.
type TimingConfig struct {
	// FixedDelay is a fixed delay between events (e.g., "100ms", "1s").
	FixedDelay string `json:"fixedDelay,omitempty" yaml:"fixedDelay,omitempty"`
	// RandomDelay is a random delay range between events (e.g., "100ms-500ms").
	RandomDelay string `json:"randomDelay,omitempty" yaml:"randomDelay,omitempty"`
	// Repeat indicates whether to repeat the events after the sequence completes.
	Repeat bool `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// eventPublisher replays configured events as a subscription stream.
type eventPublisher struct {
	executor *Executor
	field    string
	config   *SubscriptionConfig
	args     map[string]interface{}
}

var _ Publisher = (*eventPublisher)(nil)

// Subscribe streams the configured events, honoring per-event delays and
// timing, until the list is exhausted or ctx is done.
func (p *eventPublisher) Subscribe(ctx context.Context, yield func(*GraphQLResponse) bool) error {
	if len(p.config.Events) == 0 {
		return nil
	}

	for {
		for _, event := range p.config.Events {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if event.Delay != "" {
				if delay, err := time.ParseDuration(event.Delay); err == nil {
					if err := sleep(ctx, delay); err != nil {
						return err
					}
				}
			}

			if err := sleep(ctx, calculateDelay(p.config.Timing)); err != nil {
				return err
			}

			if event.Error != "" {
				return &StreamError{Message: substitute(event.Error, p.args)}
			}

			data := applyVariables(event.Data, p.args)
			keep, err := p.executor.matchFilter(p.config.Filter, p.args, data)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}

			if !yield(&GraphQLResponse{Data: map[string]interface{}{p.field: data}}) {
				return nil
			}
		}

		if p.config.Timing == nil || !p.config.Timing.Repeat {
			return nil
		}

		// Avoid a tight loop when repeating without delays.
		if err := sleep(ctx, 10*time.Millisecond); err != nil {
			return err
		}
	}
}

// StreamError ends a subscription stream with a GraphQL error.
type StreamError struct {
	Message    string
	Extensions map[string]interface{}
}

func (e *StreamError) Error() string {
	return e.Message
}

// GraphQLError converts the stream error to its wire representation.
func (e *StreamError) GraphQLError() GraphQLError {
	return GraphQLError{Message: e.Message, Extensions: e.Extensions}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// calculateDelay calculates the delay based on timing configuration.
func calculateDelay(timing *TimingConfig) time.Duration {
	if timing == nil {
		return 0
	}

	// Fixed delay takes precedence
	if timing.FixedDelay != "" {
		if d, err := time.ParseDuration(timing.FixedDelay); err == nil {
			return d
		}
	}

	if timing.RandomDelay != "" {
		return parseRandomDelay(timing.RandomDelay)
	}

	return 0
}

// parseRandomDelay parses a random delay range like "100ms-500ms".
func parseRandomDelay(rangeStr string) time.Duration {
	parts := strings.Split(rangeStr, "-")
	if len(parts) != 2 {
		return 0
	}

	minDelay, err := time.ParseDuration(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0
	}

	maxDelay, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0
	}

	if maxDelay <= minDelay {
		return minDelay
	}

	rangeMs := maxDelay.Milliseconds() - minDelay.Milliseconds()
	if rangeMs <= 0 {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int63n(rangeMs))*time.Millisecond
}

// findSubscriptionConfig finds the stream configuration for a subscription field.
func (e *Executor) findSubscriptionConfig(fieldName string) *SubscriptionConfig {
	if e.config == nil || e.config.Subscriptions == nil {
		return nil
	}

	if config, ok := e.config.Subscriptions[fieldName]; ok {
		return &config
	}

	if config, ok := e.config.Subscriptions["Subscription."+fieldName]; ok {
		return &config
	}

	return nil
}

// publisherFor builds the stream for a configured subscription field.
func (e *Executor) publisherFor(field string, config *SubscriptionConfig, args map[string]interface{}) (Publisher, error) {
	if config.Filter != "" {
		if _, err := e.compileFilter(config.Filter); err != nil {
			return nil, fmt.Errorf("invalid filter for %s: %w", field, err)
		}
	}

	if config.Redis != nil {
		return &redisPublisher{
			executor: e,
			field:    field,
			config:   config,
			args:     args,
		}, nil
	}

	return &eventPublisher{
		executor: e,
		field:    field,
		config:   config,
		args:     args,
	}, nil
}
