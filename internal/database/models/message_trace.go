package models

import (
	"time"
)

// MessageTrace stores one message trace record pulled from Exchange Online.
//
// The MessageID is the Internet Message ID (RFC 5322) assigned by the
// sending system; it is not unique on its own because a single message
// fans out to one trace row per recipient and the same row may be seen
// again across overlapping pull windows. Uniqueness is the tuple
// (tenant, message id, recipient, received date).
type MessageTrace struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     uint      `gorm:"index:idx_traces_tenant_received;uniqueIndex:idx_traces_dedup;not null" json:"tenant_id"`
	MessageID    string    `gorm:"size:512;index;uniqueIndex:idx_traces_dedup;not null" json:"message_id"`
	ReceivedDate time.Time `gorm:"index:idx_traces_tenant_received;index:idx_traces_received_sender;index:idx_traces_received_recipient;uniqueIndex:idx_traces_dedup" json:"received_date"`
	Sender       string    `gorm:"size:320;index:idx_traces_received_sender" json:"sender"`
	Recipient    string    `gorm:"size:320;index:idx_traces_received_recipient;uniqueIndex:idx_traces_dedup" json:"recipient"`
	Subject      string    `gorm:"size:1000" json:"subject"`

	Status    string `gorm:"size:50;default:'Unknown';index:idx_traces_status_direction" json:"status"`    // Delivered, Failed, Pending, Expanded, Quarantined, FilteredAsSpam, None, Unknown
	Direction string `gorm:"size:20;default:'Unknown';index:idx_traces_status_direction" json:"direction"` // Inbound, Outbound, Internal, Unknown

	Size int64 `gorm:"default:0" json:"size"`

	// EventData holds parsed provider event details, RawJSON the complete
	// provider record. Both are JSON stored as text.
	EventData string `gorm:"type:text" json:"-"`
	RawJSON   string `gorm:"type:text" json:"-"`

	// TraceDate records when this row was pulled from Exchange Online,
	// distinct from when the message itself was received.
	TraceDate time.Time `gorm:"index" json:"trace_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Direction classifies message traffic relative to the tenant's owned domains
type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
	DirectionInternal Direction = "Internal"
	DirectionUnknown  Direction = "Unknown"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound, DirectionInternal, DirectionUnknown:
		return true
	}
	return false
}

// TraceStatus is the delivery status reported by Exchange Online
type TraceStatus string

const (
	TraceStatusDelivered   TraceStatus = "Delivered"
	TraceStatusFailed      TraceStatus = "Failed"
	TraceStatusPending     TraceStatus = "Pending"
	TraceStatusExpanded    TraceStatus = "Expanded"
	TraceStatusQuarantined TraceStatus = "Quarantined"
	TraceStatusFiltered    TraceStatus = "FilteredAsSpam"
	TraceStatusNone        TraceStatus = "None"
	TraceStatusUnknown     TraceStatus = "Unknown"
)

// IsValid checks if the trace status is valid
func (s TraceStatus) IsValid() bool {
	switch s {
	case TraceStatusDelivered, TraceStatusFailed, TraceStatusPending,
		TraceStatusExpanded, TraceStatusQuarantined, TraceStatusFiltered,
		TraceStatusNone, TraceStatusUnknown:
		return true
	}
	return false
}
