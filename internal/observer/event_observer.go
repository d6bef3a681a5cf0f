package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PredictionEvent describes one step of a prediction request
type PredictionEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	Pipeline       string                 `json:"pipeline"`
	FileName       string                 `json:"file_name,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of prediction event
type EventType string

const (
	PredictionStarted   EventType = "prediction_started"
	PredictionCompleted EventType = "prediction_completed"
	PredictionFailed    EventType = "prediction_failed"
	// ScanRejected when the plausibility check refuses an upload
	ScanRejected EventType = "scan_rejected"
	// ExplanationDegraded when a fallback strategy produced the heatmap
	ExplanationDegraded EventType = "explanation_degraded"
	// ExplanationUnavailable when only the caption placeholder could be made
	ExplanationUnavailable EventType = "explanation_unavailable"
)

// Metadata keys set by the service.
const (
	MetaSource     = "explanation_source"
	MetaLayer      = "layer"
	MetaStatusCode = "status_code"
	MetaLabel      = "label"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PredictionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PredictionEvent)
}

// LoggingObserver logs prediction events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles prediction events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"pipeline":        event.Pipeline,
		"file":            event.FileName,
		"processing_time": event.ProcessingTime,
		"success":         event.Success,
	}

	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}

	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case PredictionStarted:
		entry.Debug("Prediction started")
	case PredictionCompleted:
		entry.Info("Prediction completed")
	case PredictionFailed:
		entry.Error("Prediction failed")
	case ScanRejected:
		entry.Info("Upload rejected by MRI validator")
	case ExplanationDegraded:
		entry.Warn("Explanation produced by a fallback strategy")
	case ExplanationUnavailable:
		entry.Error("Explanation unavailable, placeholder returned")
	default:
		entry.Info("Prediction event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from prediction events
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalPredictions    int64
	successful          int64
	failed              int64
	rejected            int64
	placeholders        int64
	sources             map[string]int64
	totalProcessingTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{sources: make(map[string]int64)}
}

// OnEvent handles prediction events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case PredictionStarted:
		o.totalPredictions++
	case PredictionCompleted:
		o.successful++
		o.totalProcessingTime += event.ProcessingTime
		if src, ok := event.Metadata[MetaSource].(string); ok && src != "" {
			o.sources[src]++
		}
	case PredictionFailed:
		o.failed++
	case ScanRejected:
		o.rejected++
	case ExplanationUnavailable:
		o.placeholders++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successful > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successful)
	}

	sources := make(map[string]int64, len(o.sources))
	for k, v := range o.sources {
		sources[k] = v
	}

	return map[string]interface{}{
		"total_predictions":        o.totalPredictions,
		"successful_predictions":   o.successful,
		"failed_predictions":       o.failed,
		"rejected_scans":           o.rejected,
		"placeholder_explanations": o.placeholders,
		"explanation_sources":      sources,
		"avg_processing_time":      avgProcessingTime,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	pending   sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers concurrently
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PredictionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		p.pending.Add(1)
		go func(obs Observer) {
			defer p.pending.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Flush waits for in-flight notifications.
func (p *EventPublisher) Flush() {
	p.pending.Wait()
}
