// Package notify delivers raised alerts to their sinks. Delivery is
// asynchronous and lossy under backpressure; an alert is considered
// raised the moment the correlator returned it, whether or not any sink
// manages to deliver it.
package notify

import (
	"errors"

	"vigil/correlate"
	"vigil/logger"
)

// ErrSinkUnavailable marks a delivery failure. The alert stays raised;
// dedup state was recorded before the handoff.
var ErrSinkUnavailable = errors.New("alert sink unavailable")

// Sink is one alert destination.
type Sink interface {
	Name() string
	Publish(alert correlate.Alert) error
	Close() error
}

// LogSink writes alerts to the process log. It is always configured so
// an otherwise sink-less deployment still surfaces detections.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Publish(a correlate.Alert) error {
	switch {
	case a.Severity.AtLeast(correlate.SeverityHigh):
		logger.Errorf("ALERT [%s/%s] %s (action: %s)", a.Severity, a.Type, a.Message, a.ActionTaken)
	case a.Severity == correlate.SeverityMedium:
		logger.Warnf("ALERT [%s/%s] %s (action: %s)", a.Severity, a.Type, a.Message, a.ActionTaken)
	default:
		logger.Infof("ALERT [%s/%s] %s", a.Severity, a.Type, a.Message)
	}
	return nil
}

func (LogSink) Close() error { return nil }
