package device

// Event names known to the device layer.
const (
	EventStateChanged = "stateChanged"
	EventInitialized  = "initialized"
	EventDestroyed    = "destroyed"
)

// NotificationKind classifies a notification.
type NotificationKind uint8

const (
	// KindOther is any named event without dedicated handling.
	KindOther NotificationKind = iota

	// KindStateChanged indicates a change of one or more state properties.
	KindStateChanged

	// KindInitialized indicates the session completed its first state load.
	KindInitialized

	// KindDestroyed indicates the session released itself.
	KindDestroyed
)

// String returns the kind name.
func (k NotificationKind) String() string {
	switch k {
	case KindStateChanged:
		return "STATE_CHANGED"
	case KindInitialized:
		return "INITIALIZED"
	case KindDestroyed:
		return "DESTROYED"
	default:
		return "OTHER"
	}
}

// Notification is a single event delivered by a session.
type Notification struct {
	Kind NotificationKind

	// Name is the event name as reported by the device layer.
	Name string

	// Payload is event specific and may be nil.
	Payload any
}

// PropertyChange is the payload of a state-changed notification.
type PropertyChange struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// NewNotification builds a notification, classifying it by name.
func NewNotification(name string, payload any) Notification {
	return Notification{Kind: Classify(name), Name: name, Payload: payload}
}

// Classify maps an event name to its kind. Unknown names are KindOther.
func Classify(name string) NotificationKind {
	switch name {
	case EventStateChanged:
		return KindStateChanged
	case EventInitialized:
		return KindInitialized
	case EventDestroyed:
		return KindDestroyed
	default:
		return KindOther
	}
}
