package storage

// Keys used by the client.
const (
	KeyEmail                  = "email"
	KeyName                   = "name"
	KeyPushToken              = "push:token"
	KeyInstallationID         = "push:installation"
	KeyNotificationPermission = "notification:permission"
)

// Store is the client's local key-value storage. It plays the role a
// browser's local storage plays for a web client.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}
