package live

import "github.com/torosent/tankwatch/internal/store"

// Status is the transport-driven connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "Connected"
	}
	return "Disconnected"
}

// NotificationKind classifies a Notification.
type NotificationKind int

const (
	StatusChanged NotificationKind = iota + 1
	DataChanged
	ReloadRequired
)

func (k NotificationKind) String() string {
	switch k {
	case StatusChanged:
		return "status_changed"
	case DataChanged:
		return "data_changed"
	case ReloadRequired:
		return "reload_required"
	default:
		return "unknown"
	}
}

// ReloadReason says why a reload was requested.
type ReloadReason int

const (
	ReasonNone ReloadReason = iota
	ReasonReload
	ReasonVersionMismatch
)

func (r ReloadReason) String() string {
	switch r {
	case ReasonReload:
		return "reload"
	case ReasonVersionMismatch:
		return "version_mismatch"
	default:
		return "none"
	}
}

// Notification is published to subscribers after every state change.
type Notification struct {
	Kind    NotificationKind
	Status  Status
	Applied store.Applied // DataChanged only
	Reason  ReloadReason  // ReloadRequired only
	Version string        // incoming version on a mismatch
}
