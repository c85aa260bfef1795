package notify

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"vigil/correlate"
)

// NATSSink publishes alert JSON to <prefix>.<severity> so subscribers
// can filter by severity with subject wildcards.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSSink(url, subjectPrefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("vigil"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{nc: nc, prefix: subjectPrefix}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(a correlate.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert %s: %v", a.ID, err)
	}
	subject := fmt.Sprintf("%s.%s", s.prefix, a.Severity)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrSinkUnavailable, subject, err)
	}
	return nil
}

// Close drains buffered messages before dropping the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
