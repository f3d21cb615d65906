package backup

// Event names emitted through the Notifier.
const (
	EventVolumesChanged = "volumes_changed"
	EventBackupStarted  = "backup_started"
	EventBackupFinished = "backup_finished"
)

// Notifier delivers fire-and-forget events to interested clients.
// Delivery is best effort; implementations must not block the caller.
type Notifier interface {
	Emit(event string, payload any)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Emit(string, any) {}
