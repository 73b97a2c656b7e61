package daemon

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

// SignatureHeader carries the HMAC-SHA256 signature of outbound
// webhook payloads, in "sha256=<hex>" form like GitHub's.
const SignatureHeader = "X-Reviewagent-Signature-256"

// deliveryAttempts is how many times one delivery is tried before the
// failure is recorded.
const deliveryAttempts = 3

// Dispatcher forwards daemon events to registered outbound webhooks.
// It subscribes to the broadcaster so deliveries never run on the
// review pipeline's goroutines; slow endpoints cannot stall reviews.
type Dispatcher struct {
	db          *storage.DB
	broadcaster Broadcaster
	httpClient  *http.Client
	backoff     time.Duration // base retry backoff, doubled per attempt

	subID     int
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewDispatcher creates an outbound webhook dispatcher.
func NewDispatcher(db *storage.DB, broadcaster Broadcaster) *Dispatcher {
	return &Dispatcher{
		db:          db,
		broadcaster: broadcaster,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		backoff:     time.Second,
		done:        make(chan struct{}),
	}
}

// Start begins delivering events. Safe to call multiple times.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		id, ch := d.broadcaster.Subscribe("")
		d.subID = id
		go d.run(ch)
	})
}

// Stop unsubscribes and waits for the delivery loop to drain.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.broadcaster.Unsubscribe(d.subID)
		<-d.done
	})
}

func (d *Dispatcher) run(ch <-chan Event) {
	defer close(d.done)

	for event := range ch {
		hooks, err := d.db.ListWebhooks(true)
		if err != nil {
			log.Printf("Dispatcher: failed to list webhooks: %v", err)
			continue
		}

		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("Dispatcher: failed to encode event: %v", err)
			continue
		}

		for i := range hooks {
			hook := &hooks[i]
			if !hook.SubscribedTo(event.Type) {
				continue
			}
			d.deliver(hook, event.Type, payload)
		}
	}
}

// deliver posts the payload to one webhook, retrying with exponential
// backoff. The final outcome is recorded as a delivery row.
func (d *Dispatcher) deliver(hook *storage.Webhook, eventType string, payload []byte) {
	var statusCode int
	var lastErr string

	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		statusCode, lastErr = d.post(hook, eventType, payload)
		if lastErr == "" && statusCode >= 200 && statusCode < 300 {
			if _, err := d.db.RecordDelivery(hook.ID, eventType, string(payload), statusCode, "", attempt); err != nil {
				log.Printf("Dispatcher: failed to record delivery: %v", err)
			}
			return
		}
		if attempt < deliveryAttempts {
			time.Sleep(d.backoff << (attempt - 1))
		}
	}

	if lastErr == "" {
		lastErr = "non-2xx response"
	}
	log.Printf("Dispatcher: delivery to %s failed after %d attempts: %s (status %d)",
		hook.URL, deliveryAttempts, lastErr, statusCode)
	if _, err := d.db.RecordDelivery(hook.ID, eventType, string(payload), statusCode, lastErr, deliveryAttempts); err != nil {
		log.Printf("Dispatcher: failed to record delivery: %v", err)
	}
}

func (d *Dispatcher) post(hook *storage.Webhook, eventType string, payload []byte) (int, string) {
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewagent-Event", eventType)
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(hook.Secret, payload))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err.Error()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, ""
}

// SignPayload computes the signature header value for a payload.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
