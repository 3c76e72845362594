package state

// Store persists the rate-limit table: key -> last-notified unix timestamp.
// Save replaces the whole table atomically.
type Store interface {
	Load() (map[string]int64, error)
	Save(entries map[string]int64) error
	Close() error
}
