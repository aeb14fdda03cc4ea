package remoterelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/mqtt"
)

// relayCommandTimeout bounds one MQTT-triggered command burst.
const relayCommandTimeout = 30 * time.Second

// Availability payloads.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// Broker is the MQTT surface used by the relay.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// RelayCommand is an inbound MQTT command body. Either Commands (a remote
// burst) or Action is set.
type RelayCommand struct {
	Commands   CommandList `json:"commands"`
	NumRepeats int         `json:"num_repeats"`
	DelaySecs  float64     `json:"delay_secs"`

	// Action is one of turn_on, turn_off, navigate, select_source, mute,
	// press, refresh.
	Action string `json:"action"`
	Key    string `json:"key"`
	Source string `json:"source"`
	Mute   bool   `json:"mute"`
}

// MQTTRelay mirrors device views onto MQTT and routes inbound commands to
// the owning runtime.
type MQTTRelay struct {
	broker  Broker
	topics  mqtt.Topics
	qos     byte
	manager *Manager

	mu          sync.Mutex
	unsubscribe func()
	started     bool

	logger Logger
}

// NewMQTTRelay creates a stopped relay.
func NewMQTTRelay(broker Broker, topics mqtt.Topics, qos byte, manager *Manager, logger Logger) *MQTTRelay {
	return &MQTTRelay{broker: broker, topics: topics, qos: qos, manager: manager, logger: logger}
}

// Start subscribes to device commands, publishes the current view of every
// loaded entry and then republishes after every poll.
func (r *MQTTRelay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if err := r.broker.Subscribe(r.topics.AllDeviceCommands(), r.qos, r.handleCommand); err != nil {
		return fmt.Errorf("subscribing to device commands: %w", err)
	}
	r.unsubscribe = r.manager.Subscribe(func(rt *Runtime, _ Snapshot) {
		r.publish(rt)
	})
	for _, rt := range r.manager.List() {
		r.publish(rt)
	}
	r.started = true
	return nil
}

// Stop stops publishing and drops the command subscription.
func (r *MQTTRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.unsubscribe()
	if err := r.broker.Unsubscribe(r.topics.AllDeviceCommands()); err != nil {
		r.logDebug("unsubscribing device commands", "error", err)
	}
	r.started = false
}

// PublishRemoved clears the retained topics of a deleted device.
func (r *MQTTRelay) PublishRemoved(deviceID string) {
	if deviceID == "" {
		return
	}
	for _, topic := range []string{r.topics.DeviceState(deviceID), r.topics.DeviceAvailability(deviceID)} {
		if err := r.broker.Publish(topic, nil, r.qos, true); err != nil {
			r.logDebug("clearing retained topic", "topic", topic, "error", err)
		}
	}
}

func (r *MQTTRelay) publish(rt *Runtime) {
	view := rt.View()
	if view.DeviceID == "" {
		return
	}

	if err := r.broker.PublishJSON(r.topics.DeviceState(view.DeviceID), view, true); err != nil {
		r.logDebug("publishing device state", "entry", rt.EntryID, "error", err)
	}
	availability := AvailabilityOffline
	if view.LastUpdateSuccess {
		availability = AvailabilityOnline
	}
	if err := r.broker.Publish(r.topics.DeviceAvailability(view.DeviceID), []byte(availability), r.qos, true); err != nil {
		r.logDebug("publishing availability", "entry", rt.EntryID, "error", err)
	}
}

// handleCommand is the mqtt.MessageHandler for {prefix}/+/command.
func (r *MQTTRelay) handleCommand(topic string, payload []byte) error {
	deviceID, ok := r.topics.DeviceIDFromCommandTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidInput, topic)
	}
	rt, ok := r.manager.FindByDeviceID(deviceID)
	if !ok {
		return fmt.Errorf("%w: no entry for device %s", ErrEntryNotLoaded, deviceID)
	}

	var cmd RelayCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: decoding command: %w", ErrInvalidInput, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayCommandTimeout)
	defer cancel()

	return ExecuteCommand(ctx, rt, cmd)
}

// ExecuteCommand routes one RelayCommand to the runtime's dispatcher or
// waker.
func ExecuteCommand(ctx context.Context, rt *Runtime, cmd RelayCommand) error {
	if len(cmd.Commands) > 0 {
		return rt.Dispatcher.SendCommands(ctx, cmd.Commands, SendOptions{
			NumRepeats: cmd.NumRepeats,
			Delay:      time.Duration(cmd.DelaySecs * float64(time.Second)),
		})
	}

	switch cmd.Action {
	case "turn_on":
		_, err := rt.TurnOn(ctx)
		return err
	case "turn_off":
		return rt.Dispatcher.TurnOff(ctx)
	case "navigate":
		return rt.Dispatcher.Navigate(ctx, cmd.Key)
	case "select_source":
		return rt.Dispatcher.SelectSource(ctx, cmd.Source)
	case "mute":
		return rt.Dispatcher.Mute(ctx, cmd.Mute)
	case "press":
		return rt.Dispatcher.Press(ctx, cmd.Key)
	case "refresh":
		return rt.Coordinator.Refresh(ctx)
	case "":
		return fmt.Errorf("%w: commands or action required", ErrInvalidInput)
	default:
		return fmt.Errorf("%w: action %q", ErrUnsupportedCommand, cmd.Action)
	}
}

func (r *MQTTRelay) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}
