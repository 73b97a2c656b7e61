package storage

import (
	"database/sql"
	"strings"
	"time"
)

// CreateWebhook registers an outbound webhook subscription
func (db *DB) CreateWebhook(url, secret string, events []string) (*Webhook, error) {
	eventsStr := "*"
	if len(events) > 0 {
		eventsStr = strings.Join(events, ",")
	}

	result, err := db.Exec(`INSERT INTO webhooks (url, secret, events, active) VALUES (?, ?, ?, 1)`,
		url, secret, eventsStr)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Webhook{
		ID:        id,
		URL:       url,
		Secret:    secret,
		Events:    eventsStr,
		Active:    true,
		CreatedAt: time.Now(),
	}, nil
}

// GetWebhook returns a webhook by ID
func (db *DB) GetWebhook(id int64) (*Webhook, error) {
	var w Webhook
	var secret sql.NullString
	var active int
	var createdAt string
	err := db.QueryRow(`SELECT id, url, secret, events, active, created_at FROM webhooks WHERE id = ?`, id).
		Scan(&w.ID, &w.URL, &secret, &w.Events, &active, &createdAt)
	if err != nil {
		return nil, err
	}
	w.Secret = secret.String
	w.Active = active != 0
	w.CreatedAt = parseSQLiteTime(createdAt)
	return &w, nil
}

// ListWebhooks returns all registered webhooks. If activeOnly is true,
// deactivated hooks are skipped.
func (db *DB) ListWebhooks(activeOnly bool) ([]Webhook, error) {
	query := `SELECT id, url, secret, events, active, created_at FROM webhooks`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []Webhook
	for rows.Next() {
		var w Webhook
		var secret sql.NullString
		var active int
		var createdAt string
		if err := rows.Scan(&w.ID, &w.URL, &secret, &w.Events, &active, &createdAt); err != nil {
			return nil, err
		}
		w.Secret = secret.String
		w.Active = active != 0
		w.CreatedAt = parseSQLiteTime(createdAt)
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// DeleteWebhook removes a webhook registration
func (db *DB) DeleteWebhook(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM webhook_deliveries WHERE webhook_id = ?`, id); err != nil {
		return err
	}

	result, err := tx.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

// SubscribedTo reports whether the webhook wants the given event
func (w *Webhook) SubscribedTo(event string) bool {
	if w.Events == "" || w.Events == "*" {
		return true
	}
	for _, e := range strings.Split(w.Events, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

// RecordDelivery stores the outcome of an outbound webhook delivery attempt
func (db *DB) RecordDelivery(webhookID int64, event, payload string, statusCode int, deliveryErr string, attempts int) (*WebhookDelivery, error) {
	now := time.Now()
	var deliveredAt interface{}
	if deliveryErr == "" && statusCode >= 200 && statusCode < 300 {
		deliveredAt = now.Format(time.RFC3339)
	}

	result, err := db.Exec(`
		INSERT INTO webhook_deliveries (webhook_id, event, payload, status_code, error, attempts, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, webhookID, event, payload, statusCode, deliveryErr, attempts, deliveredAt)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	d := &WebhookDelivery{
		ID:         id,
		WebhookID:  webhookID,
		Event:      event,
		Payload:    payload,
		StatusCode: statusCode,
		Error:      deliveryErr,
		Attempts:   attempts,
		CreatedAt:  now,
	}
	if deliveredAt != nil {
		d.DeliveredAt = &now
	}
	return d, nil
}

// ListDeliveries returns recent delivery attempts for a webhook, newest first
func (db *DB) ListDeliveries(webhookID int64, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, webhook_id, event, payload, status_code, error, attempts, delivered_at, created_at
		FROM webhook_deliveries
		WHERE webhook_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		var statusCode sql.NullInt64
		var deliveryErr, deliveredAt sql.NullString
		var createdAt string
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.Event, &d.Payload, &statusCode,
			&deliveryErr, &d.Attempts, &deliveredAt, &createdAt); err != nil {
			return nil, err
		}
		d.StatusCode = int(statusCode.Int64)
		d.Error = deliveryErr.String
		if deliveredAt.Valid {
			t := parseSQLiteTime(deliveredAt.String)
			d.DeliveredAt = &t
		}
		d.CreatedAt = parseSQLiteTime(createdAt)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
