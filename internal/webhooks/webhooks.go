// Package webhooks delivers task events to external HTTP endpoints
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmind/flowmind/internal/events"
)

// Endpoint is a configured webhook destination
type Endpoint struct {
	ID      string             `json:"id"`
	URL     string             `json:"url"`
	Secret  string             `json:"secret,omitempty"`
	Events  []events.EventType `json:"events"`
	Enabled bool               `json:"enabled"`
}

// Payload is the body POSTed to endpoints
type Payload struct {
	Event      events.EventType       `json:"event"`
	Timestamp  int64                  `json:"timestamp"`
	DeliveryID string                 `json:"delivery_id"`
	UserID     int64                  `json:"user_id"`
	TaskID     int64                  `json:"task_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// DeliveryResult records one delivery attempt
type DeliveryResult struct {
	EndpointID string
	DeliveryID string
	Event      events.EventType
	StatusCode int
	Success    bool
	Error      string
	Duration   time.Duration
	Timestamp  int64
}

// Notifier subscribes to the event bus and forwards matching events to
// registered endpoints. Deliveries run on a small worker pool so a slow
// endpoint never blocks the bus.
type Notifier struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	bus    *events.Bus
	logger *slog.Logger
	client *http.Client

	queue  chan delivery
	cancel context.CancelFunc
	wg     sync.WaitGroup

	historyMu sync.Mutex
	history   []*DeliveryResult
	historyN  int
}

type delivery struct {
	endpoint *Endpoint
	payload  *Payload
}

const (
	deliveryQueueSize = 1000
	historySize       = 100
)

// NewNotifier creates a notifier bound to the bus. Call Start to begin
// forwarding.
func NewNotifier(bus *events.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		endpoints: make(map[string]*Endpoint),
		bus:       bus,
		logger:    logger,
		client:    &http.Client{Timeout: 30 * time.Second},
		queue:     make(chan delivery, deliveryQueueSize),
		historyN:  historySize,
	}
}

// Register adds an endpoint. An empty event list subscribes to all
// events.
func (n *Notifier) Register(endpoint *Endpoint) error {
	if endpoint.URL == "" {
		return fmt.Errorf("webhook endpoint needs a URL")
	}
	if endpoint.ID == "" {
		endpoint.ID = uuid.New().String()
	}
	endpoint.Enabled = true

	n.mu.Lock()
	n.endpoints[endpoint.ID] = endpoint
	n.mu.Unlock()

	n.logger.Info("webhook registered", "endpoint_id", endpoint.ID, "url", endpoint.URL)
	return nil
}

// Unregister removes an endpoint.
func (n *Notifier) Unregister(id string) {
	n.mu.Lock()
	delete(n.endpoints, id)
	n.mu.Unlock()
}

// List returns the registered endpoints.
func (n *Notifier) List() []*Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Endpoint, 0, len(n.endpoints))
	for _, e := range n.endpoints {
		out = append(out, e)
	}
	return out
}

// Start subscribes to the bus and launches the delivery workers.
func (n *Notifier) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	ctx, n.cancel = context.WithCancel(ctx)

	ch := n.bus.Subscribe("webhooks")

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.bus.Unsubscribe(ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				n.dispatch(event)
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for {
				select {
				case d := <-n.queue:
					n.deliver(d)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Stop halts dispatch. Queued deliveries not yet started are dropped.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

// dispatch fans an event out to every subscribed endpoint
func (n *Notifier) dispatch(event *events.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, endpoint := range n.endpoints {
		if !endpoint.Enabled || !subscribed(endpoint, event.Type) {
			continue
		}
		payload := &Payload{
			Event:      event.Type,
			Timestamp:  event.Timestamp,
			DeliveryID: uuid.New().String(),
			UserID:     event.UserID,
			TaskID:     event.TaskID,
			Data:       event.Data,
		}
		select {
		case n.queue <- delivery{endpoint: endpoint, payload: payload}:
		default:
			n.logger.Warn("webhook queue full, dropping delivery",
				"endpoint_id", endpoint.ID, "event", event.Type)
		}
	}
}

func (n *Notifier) deliver(d delivery) {
	start := time.Now()
	result := &DeliveryResult{
		EndpointID: d.endpoint.ID,
		DeliveryID: d.payload.DeliveryID,
		Event:      d.payload.Event,
		Timestamp:  start.Unix(),
	}

	body, err := json.Marshal(d.payload)
	if err != nil {
		result.Error = err.Error()
		n.record(result)
		return
	}

	req, err := http.NewRequest(http.MethodPost, d.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = err.Error()
		n.record(result)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-FlowMind-Event", string(d.payload.Event))
	req.Header.Set("X-FlowMind-Delivery", d.payload.DeliveryID)
	if d.endpoint.Secret != "" {
		req.Header.Set("X-FlowMind-Signature", Sign(body, d.endpoint.Secret))
	}

	resp, err := n.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		n.logger.Warn("webhook delivery failed",
			"endpoint_id", d.endpoint.ID, "event", d.payload.Event, "error", err)
		n.record(result)
		return
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Success {
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		n.logger.Warn("webhook endpoint rejected delivery",
			"endpoint_id", d.endpoint.ID, "event", d.payload.Event, "status", resp.StatusCode)
	}
	n.record(result)
}

// record appends to the delivery history ring
func (n *Notifier) record(result *DeliveryResult) {
	n.historyMu.Lock()
	defer n.historyMu.Unlock()
	n.history = append(n.history, result)
	if len(n.history) > n.historyN {
		n.history = n.history[len(n.history)-n.historyN:]
	}
}

// History returns the most recent delivery results, newest last.
func (n *Notifier) History(limit int) []*DeliveryResult {
	n.historyMu.Lock()
	defer n.historyMu.Unlock()
	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	out := make([]*DeliveryResult, limit)
	copy(out, n.history[len(n.history)-limit:])
	return out
}

func subscribed(endpoint *Endpoint, eventType events.EventType) bool {
	if len(endpoint.Events) == 0 {
		return true
	}
	for _, t := range endpoint.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// Sign computes the hex HMAC-SHA256 of the payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received X-FlowMind-Signature header.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}
