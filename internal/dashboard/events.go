package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"
)

// DecisionNotification is the payload notify_decision_event() publishes on
// every decision_events insert, decoded from the trigger's json_build_object
// call in storage.Schema.
type DecisionNotification struct {
	ID       int64   `json:"id"`
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"`
	Executed bool    `json:"executed"`
	Reward   float64 `json:"reward"`
}

// EventListener listens for PostgreSQL NOTIFY traffic on the
// decision_events channel and hands each decoded notification to onEvent.
// It carries no WebSocket- or HTTP-specific knowledge; cmd/dashboard wires
// onEvent to its own client broadcaster.
type EventListener struct {
	dbURL    string
	logger   *log.Logger
	onEvent  func(DecisionNotification)
	shutdown chan struct{}
}

// NewEventListener creates an EventListener. onEvent is invoked once per
// decoded decision_events notification; it must not block.
func NewEventListener(dbURL string, onEvent func(DecisionNotification), logger *log.Logger) *EventListener {
	return &EventListener{
		dbURL:    dbURL,
		logger:   logger,
		onEvent:  onEvent,
		shutdown: make(chan struct{}),
	}
}

// Start begins listening for database notifications
func (el *EventListener) Start(ctx context.Context) {
	go el.listenLoop(ctx)
}

// listenLoop continuously listens for PostgreSQL notifications
func (el *EventListener) listenLoop(ctx context.Context) {
	defer el.logger.Println("event listener: shutting down")

	minRetryDelay := 100 * time.Millisecond
	maxRetryDelay := 10 * time.Second
	retryDelay := minRetryDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetryDelay, maxRetryDelay, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				el.logger.Printf("event listener: %v", err)
			}
		})

		if err := el.setupListeners(listener); err != nil {
			el.logger.Printf("event listener: failed to setup listeners: %v", err)
			listener.Close()
			retryDelay = maxRetryDelay
			time.Sleep(retryDelay)
			continue
		}

		retryDelay = minRetryDelay

		// Listen for notifications
		if err := el.handleNotifications(ctx, listener); err != nil {
			el.logger.Printf("event listener: %v", err)
		}

		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
			time.Sleep(retryDelay)
		}
	}
}

// decisionEventsChannel is the NOTIFY channel storage.Schema's
// notify_decision_event trigger fires on every decision_events insert.
const decisionEventsChannel = "decision_events"

// setupListeners subscribes to the decision_events channel.
func (el *EventListener) setupListeners(listener *pq.Listener) error {
	if err := listener.Listen(decisionEventsChannel); err != nil {
		return err
	}
	el.logger.Printf("event listener: listening on channel '%s'", decisionEventsChannel)
	return nil
}

// handleNotifications decodes each incoming NOTIFY payload and hands it to
// onEvent. A malformed payload is logged and skipped rather than killing the
// listener — one bad row shouldn't take down the live feed.
func (el *EventListener) handleNotifications(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-el.shutdown:
			return nil

		case notification := <-listener.Notify:
			if notification == nil {
				return nil
			}

			var decoded DecisionNotification
			if err := json.Unmarshal([]byte(notification.Extra), &decoded); err != nil {
				el.logger.Printf("event listener: malformed notification on channel '%s': %v", notification.Channel, err)
				continue
			}

			if el.onEvent != nil {
				el.onEvent(decoded)
			}
		}
	}
}

// Stop stops the event listener
func (el *EventListener) Stop() {
	close(el.shutdown)
}
