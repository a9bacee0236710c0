package domain

import "time"

// BehaviorPattern is a customer's learned baseline. One per customer.
type BehaviorPattern struct {
	CustomerID     string    `json:"customerId"`
	TypicalHours   []int     `json:"typicalHours"`
	TypicalDays    []int     `json:"typicalDays"`
	KnownDevices   []string  `json:"knownDevices"`
	KnownLocations []string  `json:"knownLocations"`
	AvgAmount      float64   `json:"avgAmount"`
	EventCount     int       `json:"eventCount"`
	LastLocation   *GeoPoint `json:"lastLocation,omitempty"`
	LastSeenAt     time.Time `json:"lastSeenAt,omitempty"`

	// Confidence grows with observations, 0..1.
	Confidence float64 `json:"confidence"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KnowsDevice reports whether the device has been seen before.
func (p *BehaviorPattern) KnowsDevice(deviceID string) bool {
	return containsString(p.KnownDevices, deviceID)
}

// KnowsLocation reports whether the location label has been seen before.
func (p *BehaviorPattern) KnowsLocation(label string) bool {
	return containsString(p.KnownLocations, label)
}

// TypicalHour reports whether hour is within the learned hours.
func (p *BehaviorPattern) TypicalHour(hour int) bool {
	for _, h := range p.TypicalHours {
		if h == hour {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// BehaviorEvent is an immutable observation of customer activity.
type BehaviorEvent struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customerId"`
	EventID    string            `json:"eventId,omitempty"`
	EventType  string            `json:"eventType"`
	DeviceID   string            `json:"deviceId,omitempty"`
	IPAddress  string            `json:"ipAddress,omitempty"`
	Hour       int               `json:"hour"`
	Location   string            `json:"location,omitempty"`
	Amount     float64           `json:"amount"`
	OccurredAt time.Time         `json:"occurredAt"`
	Anomalies  []BehaviorAnomaly `json:"anomalies,omitempty"`
}

// BehaviorAnomaly is a deviation recorded against a behaviour event.
type BehaviorAnomaly struct {
	Type        string  `json:"type"`
	Score       float64 `json:"score"`
	Description string  `json:"description,omitempty"`
}
