package observer

import (
	"context"
	"errors"
	"fmt"

	raven "github.com/getsentry/raven-go"
)

// ErrorReporter is the part of the Sentry client the observer uses.
type ErrorReporter interface {
	CaptureError(err error, tags map[string]string, interfaces ...raven.Interface) string
}

// SentryObserver reports server-side failures and placeholder explanations.
type SentryObserver struct {
	reporter ErrorReporter
}

// NewSentryClient creates a raven client for dsn.
func NewSentryClient(dsn, environment string) (*raven.Client, error) {
	client, err := raven.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	if environment != "" {
		client.SetEnvironment(environment)
	}
	return client, nil
}

// NewSentryObserver wraps a reporter.
func NewSentryObserver(reporter ErrorReporter) *SentryObserver {
	return &SentryObserver{reporter: reporter}
}

func (o *SentryObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	switch event.EventType {
	case PredictionFailed:
		// client errors are expected traffic
		if code, ok := event.Metadata[MetaStatusCode].(int); ok && code < 500 {
			return
		}
	case ExplanationUnavailable:
	default:
		return
	}

	msg := event.ErrorMessage
	if msg == "" {
		msg = string(event.EventType)
	}
	tags := map[string]string{
		"event_type": string(event.EventType),
		"pipeline":   event.Pipeline,
	}
	if src, ok := event.Metadata[MetaSource].(string); ok {
		tags[MetaSource] = src
	}
	o.reporter.CaptureError(errors.New(msg), tags)
}

func (o *SentryObserver) GetObserverName() string {
	return "sentry_observer"
}
