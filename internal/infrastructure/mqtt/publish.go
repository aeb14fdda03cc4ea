package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1MB, which is within typical
// broker limits.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement.
//
// Parameters:
//   - topic: the full topic, e.g. Topics.DeviceState("dev-1")
//   - payload: the body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: whether the broker keeps the message for new subscribers
//
// QoS Levels:
//   - 0: at most once
//   - 1: at least once, may duplicate
//   - 2: exactly once, more round trips
//
// Retained Messages:
//   - Use for device state, availability and bridge status
//   - Never for commands or wake requests, which must not replay
//
// Returns:
//   - error: nil on success, ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected,
//     or a wrapped ErrPublishFailed
//
// Example:
//
//	err := client.Publish(client.Topics().DeviceAvailability("dev-1"), []byte("online"), 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it at the configured QoS.
//
// Parameters:
//   - topic: the full topic
//   - v: any value encoding/json accepts
//   - retained: as for Publish
//
// Returns:
//   - error: a wrapped ErrPublishFailed when v cannot be encoded, otherwise as
//     for Publish
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, c.QoS(), retained)
}
