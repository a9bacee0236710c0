package domain

import (
	"strings"
	"time"
)

// Event is a financial event supplied by the ledger for fraud evaluation.
type Event struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	CustomerID    string `json:"customerId"`
	AccountID     string `json:"accountId,omitempty"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// e.g. "purchase", "transfer", "withdrawal", "login"
	Type    string `json:"type"`
	Channel string `json:"channel"`

	// Origin
	DeviceID  string    `json:"deviceId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Geo       *GeoPoint `json:"geo,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Free-form attributes visible to rule conditions.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// GeoPoint is a resolved event location.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
}

// Label returns a stable location label used for known-location sets.
func (g *GeoPoint) Label() string {
	if g == nil {
		return ""
	}
	if g.City != "" {
		return strings.ToUpper(g.Country) + "/" + strings.ToLower(g.City)
	}
	return strings.ToUpper(g.Country)
}

// Validate checks the fields every evaluation needs.
func (e *Event) Validate() error {
	if e.CustomerID == "" {
		return Invalid("customerId", "required")
	}
	if e.TransactionID == "" {
		return Invalid("transactionId", "required")
	}
	if e.Amount < 0 {
		return Invalid("amount", "must not be negative")
	}
	return nil
}

// Field resolves a named attribute of the event for rule conditions.
// Built-in fields take precedence over free-form attributes.
// The second return value is false when the field is absent.
func (e *Event) Field(name string) (any, bool) {
	switch name {
	case "amount":
		return e.Amount, true
	case "currency":
		return e.Currency, e.Currency != ""
	case "type":
		return e.Type, e.Type != ""
	case "channel":
		return e.Channel, e.Channel != ""
	case "customer_id":
		return e.CustomerID, e.CustomerID != ""
	case "account_id":
		return e.AccountID, e.AccountID != ""
	case "transaction_id":
		return e.TransactionID, e.TransactionID != ""
	case "device_id":
		return e.DeviceID, e.DeviceID != ""
	case "ip_address":
		return e.IPAddress, e.IPAddress != ""
	case "hour":
		if e.Timestamp.IsZero() {
			return nil, false
		}
		return float64(e.Timestamp.UTC().Hour()), true
	case "day_of_week":
		if e.Timestamp.IsZero() {
			return nil, false
		}
		return float64(e.Timestamp.UTC().Weekday()), true
	case "country":
		if e.Geo == nil || e.Geo.Country == "" {
			return nil, false
		}
		return e.Geo.Country, true
	case "city":
		if e.Geo == nil || e.Geo.City == "" {
			return nil, false
		}
		return e.Geo.City, true
	}

	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// AttributeMap flattens the event into the map handed to guard expressions.
func (e *Event) AttributeMap() map[string]any {
	m := make(map[string]any, len(e.Attributes)+12)
	for k, v := range e.Attributes {
		m[k] = v
	}
	for _, name := range []string{
		"amount", "currency", "type", "channel", "customer_id", "account_id",
		"transaction_id", "device_id", "ip_address", "hour", "day_of_week",
		"country", "city",
	} {
		if v, ok := e.Field(name); ok {
			m[name] = v
		}
	}
	return m
}

// EventFilter selects events from history.
type EventFilter struct {
	CustomerID string
	DeviceID   string
	AccountID  string
	Since      time.Time
	Until      time.Time
}
