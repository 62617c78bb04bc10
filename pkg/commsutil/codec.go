package commsutil

import (
	"encoding/json"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const codecLogPrefix = "commsutil:codec"

// PublishJSON publishes v as a JSON document. Control commands and alerts
// travel as JSON; CIM requests use the binary message codec.
func PublishJSON(nc *comms.Conn, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s - encode %T for %s: %w", codecLogPrefix, v, subject, err)
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%s - publish to %s: %w", codecLogPrefix, subject, err)
	}
	return nil
}

// DecodeJSON decodes a JSON bus payload into a new T.
func DecodeJSON[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%s - decode %T: %w", codecLogPrefix, v, err)
	}
	return v, nil
}
