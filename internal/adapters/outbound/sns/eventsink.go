// Package sns implements the EventSink interface using AWS SNS.
//
// Every loan workflow transition is published as a JSON message to a single
// topic. Subscribers can filter on the message attributes:
//   - eventType: always "loan.transition"
//   - runId: the workflow run identifier
//   - state: the state reached ("Failed" for failed transitions)
//   - account: the acting address
//
// The subject names the run and the transition, for email subscriptions.
// FIFO topics (ARN ending in ".fifo") are grouped by run ID so the
// transitions of one run are delivered in order.
//
// For testing, use the memory.EventSink adapter instead.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/aave-loan/internal/pkg/retry"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// EventType is the eventType attribute set on every message.
const EventType = "loan.transition"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event sink is closed")

// SNSPublisher defines the subset of SNS client methods used by EventSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS event sink.
type Config struct {
	// TopicARN is the topic workflow events are published to.
	TopicARN string

	// Retry controls backoff for throttling and transient service errors.
	// Zero fields take the values from ConfigDefaults.
	Retry retry.Config

	// Logger is the structured logger for the sink.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		Logger: slog.Default(),
	}
}

// EventSink publishes workflow events to AWS SNS.
type EventSink struct {
	client SNSPublisher
	config Config
	fifo   bool
	logger *slog.Logger
	closed atomic.Bool
}

// NewEventSink creates a new SNS event sink.
func NewEventSink(client SNSPublisher, config Config) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("sns client cannot be nil")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Retry.InitialBackoff == 0 {
		config.Retry.InitialBackoff = defaults.Retry.InitialBackoff
	}
	if config.Retry.MaxBackoff == 0 {
		config.Retry.MaxBackoff = defaults.Retry.MaxBackoff
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &EventSink{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-eventsink", "topic", config.TopicARN),
	}, nil
}

// Publish sends one workflow event, retrying throttling and service errors.
func (s *EventSink) Publish(ctx context.Context, event outbound.WorkflowEvent) error {
	if s.closed.Load() {
		return ErrClosed
	}

	input, err := s.message(event)
	if err != nil {
		return err
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"runId", event.RunID,
			"state", event.To,
			"error", err)
	}
	err = retry.DoVoid(ctx, s.config.Retry, isRetryableError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("publishing %s -> %s for run %s: %w", event.From, event.To, event.RunID, err)
	}

	s.logger.Debug("workflow event published", "runId", event.RunID, "state", event.To)
	return nil
}

func (s *EventSink) message(event outbound.WorkflowEvent) (*sns.PublishInput, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Subject:  aws.String(subject(event)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": stringAttribute(EventType),
			"runId":     stringAttribute(event.RunID),
			"state":     stringAttribute(event.To.String()),
			"account":   stringAttribute(event.Account),
		},
	}
	if s.fifo {
		input.MessageGroupId = aws.String(event.RunID)
		input.MessageDeduplicationId = aws.String(event.RunID + ":" + event.From.String() + ":" + event.To.String())
	}
	return input, nil
}

// subject stays well under the 100 character SNS limit: a UUID run ID and
// two state names.
func subject(event outbound.WorkflowEvent) string {
	return fmt.Sprintf("aave-loan %s: %s -> %s", event.RunID, event.From, event.To)
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// permanentErrorCodes are SNS error codes a retry cannot fix.
var permanentErrorCodes = map[string]bool{
	"InvalidParameter":      true,
	"ParameterValueInvalid": true,
	"NotFound":              true,
	"AuthorizationError":    true,
	"InvalidSecurity":       true,
	"KMSAccessDenied":       true,
	"KMSDisabled":           true,
	"KMSNotFound":           true,
	"KMSInvalidState":       true,
	"ValidationException":   true,
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return !permanentErrorCodes[apiErr.ErrorCode()]
	}
	// Throttling, internal errors and network failures.
	return true
}

// Close stops publishing. It is safe to call more than once.
func (s *EventSink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("SNS event sink closed")
	}
	return nil
}
