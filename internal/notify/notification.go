package notify

import (
	"time"

	"github.com/juju/errors"

	"notifyd/internal/address"
)

// Well-known notification types.
const (
	ResourceAdded         = "resource-added"
	ResourceRemoved       = "resource-removed"
	AttributeValueWritten = "attribute-value-written"
	MetricValueChanged    = "metric-value-changed"
)

// AttributeWritten is the data carried by an attribute-value-written
// notification.
type AttributeWritten struct {
	Name     string `json:"name"`
	OldValue any    `json:"old-value"`
	NewValue any    `json:"new-value"`
}

// Notification is an immutable event record. Construct with New so the
// source is validated as a concrete address.
type Notification struct {
	Type      string
	Source    address.Path
	Message   string
	Timestamp time.Time
	Data      any
}

// New builds a Notification stamped with the current time.
func New(typ string, source address.Path, message string, data any) (Notification, error) {
	return NewAt(time.Now(), typ, source, message, data)
}

// NewAt builds a Notification with an explicit timestamp.
func NewAt(at time.Time, typ string, source address.Path, message string, data any) (Notification, error) {
	if typ == "" {
		return Notification{}, errors.NotValidf("empty notification type")
	}
	if source.IsWildcard() {
		return Notification{}, errors.NotValidf("notification source %s (wildcards not allowed)", source)
	}
	return Notification{
		Type:      typ,
		Source:    source,
		Message:   message,
		Timestamp: at,
		Data:      data,
	}, nil
}
