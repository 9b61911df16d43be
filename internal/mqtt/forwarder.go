package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/service"
)

const defaultForwardBuffer = 256

// Messenger is the broker surface the forwarder needs; *Client satisfies it.
type Messenger interface {
	PublishJSON(topic string, data interface{}) error
	Subscribe(topic string, handler MessageHandler) error
}

// AlertSource is the alert engine surface the forwarder needs.
type AlertSource interface {
	Subscribe(fn service.AlertCallback) string
	Unsubscribe(id string) bool
	Acknowledge(id, actor string) (models.Alert, error)
	Resolve(id, actor, note string) (models.Alert, error)
}

type alertCommand struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// AlertForwarder publishes alert lifecycle notifications to
// <topic>/<severity>/<event> and accepts acknowledge and resolve commands on
// <topic>/commands/<alertID>/ack and <topic>/commands/<alertID>/resolve.
// Publishing happens on a worker goroutine so a slow broker never stalls
// alert evaluation; notifications are dropped when the buffer is full.
type AlertForwarder struct {
	messenger Messenger
	alerts    AlertSource
	topic     string
	log       *logger.Logger

	queue chan service.AlertNotification
	subID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewAlertForwarder(messenger Messenger, alerts AlertSource, topic string, log *logger.Logger) *AlertForwarder {
	if log == nil {
		log = logger.Nop()
	}
	return &AlertForwarder{
		messenger: messenger,
		alerts:    alerts,
		topic:     strings.TrimSuffix(topic, "/"),
		log:       log,
		queue:     make(chan service.AlertNotification, defaultForwardBuffer),
	}
}

func (f *AlertForwarder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return nil
	}

	for _, action := range []string{"ack", "resolve"} {
		pattern := fmt.Sprintf("%s/commands/+/%s", f.topic, action)
		if err := f.messenger.Subscribe(pattern, f.handleCommand); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
		}
	}

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.subID = f.alerts.Subscribe(f.enqueue)

	f.wg.Add(1)
	go f.run()

	f.log.Info("Alert forwarder publishing to %s", f.topic)
	return nil
}

func (f *AlertForwarder) Stop() {
	f.mu.Lock()
	if f.cancel == nil {
		f.mu.Unlock()
		return
	}
	f.alerts.Unsubscribe(f.subID)
	f.cancel()
	f.cancel = nil
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *AlertForwarder) enqueue(n service.AlertNotification) {
	select {
	case f.queue <- n:
	default:
		f.log.Warn("Alert forward buffer full, dropping %s notification for %s", n.Event, n.Alert.ID)
	}
}

func (f *AlertForwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case n := <-f.queue:
			f.publish(n)
		}
	}
}

func (f *AlertForwarder) publish(n service.AlertNotification) {
	topic := fmt.Sprintf("%s/%s/%s", f.topic, n.Alert.Severity, n.Event)
	if err := f.messenger.PublishJSON(topic, n); err != nil {
		f.log.Error("Failed to forward alert %s: %v", n.Alert.ID, err)
	}
}

func (f *AlertForwarder) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("malformed command topic: %s", topic)
	}
	alertID, action := parts[len(parts)-2], parts[len(parts)-1]

	var cmd alertCommand
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("invalid command payload: %w", err)
		}
	}
	if cmd.Actor == "" {
		cmd.Actor = "mqtt"
	}

	var err error
	switch action {
	case "ack":
		_, err = f.alerts.Acknowledge(alertID, cmd.Actor)
	case "resolve":
		_, err = f.alerts.Resolve(alertID, cmd.Actor, cmd.Note)
	default:
		return fmt.Errorf("unknown command: %s", action)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, alertID, err)
	}

	f.log.Info("Alert %s %s via MQTT by %s", alertID, action, cmd.Actor)
	return nil
}
