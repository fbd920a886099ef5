package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/apd-alarms/internal/config"
)

// Parameter names.
const (
	Scenario1 = "Scenario1"
	Scenario2 = "Scenario2"
	Username  = "Username"
	Password  = "Password"
)

// Names lists every parameter in display order.
//
//nolint:gochecknoglobals // Fixed parameter set.
var Names = []string{Scenario1, Scenario2, Username, Password}

// ErrUnknownParameter is returned for names outside Names.
var ErrUnknownParameter = errors.New("unknown parameter")

// ChangeFunc is called after a parameter changed and was persisted.
type ChangeFunc func(name, value string)

// Store is a YAML file backed parameter store. It is safe for concurrent use.
type Store struct {
	// path is the YAML file location.
	path string
	// mu protects values and callbacks.
	mu sync.Mutex
	// values holds the current parameter values.
	values map[string]string
	// callbacks are notified on every change.
	callbacks []ChangeFunc
	// notified is closed once the callbacks of the last committed change have returned.
	notified chan struct{}
}

// Open loads the store from path. A missing file yields empty values.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   filepath.Clean(path),
		values: make(map[string]string, len(Names)),
	}

	for _, name := range Names {
		s.values[name] = ""
	}

	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}

		return nil, fmt.Errorf("read parameters: %w", err)
	}

	var stored map[string]string
	if err = yaml.Unmarshal(contents, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}

	for name, value := range stored {
		// Entries from older layouts are ignored.
		if _, ok := s.values[name]; ok {
			s.values[name] = value
		}
	}

	return s, nil
}

// Get returns the value of a parameter.
func (s *Store) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[name]
	if !ok {
		return "", fmt.Errorf("get %q: %w", name, ErrUnknownParameter)
	}

	return value, nil
}

// Set stores a parameter, persists the file and notifies callbacks when the value changed.
// Callbacks of concurrent changes run one at a time in the order the changes were stored.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()

	previous, ok := s.values[name]
	if !ok {
		s.mu.Unlock()

		return fmt.Errorf("set %q: %w", name, ErrUnknownParameter)
	}

	if previous == value {
		s.mu.Unlock()

		return nil
	}

	s.values[name] = value

	if err := s.persist(); err != nil {
		s.values[name] = previous
		s.mu.Unlock()

		return err
	}

	callbacks := append([]ChangeFunc(nil), s.callbacks...)

	// Notifications are chained so listeners see changes in commit order.
	previousNotified, notified := s.notified, make(chan struct{})
	s.notified = notified

	s.mu.Unlock()

	defer close(notified)

	if previousNotified != nil {
		<-previousNotified
	}

	for _, callback := range callbacks {
		callback(name, value)
	}

	return nil
}

// All returns a copy of every parameter.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string]string, len(s.values))
	for name, value := range s.values {
		values[name] = value
	}

	return values
}

// OnChange registers a callback for parameter changes.
func (s *Store) OnChange(callback ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callbacks = append(s.callbacks, callback)
}

// persist replaces the file with the current values. Callers hold mu.
func (s *Store) persist() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	tmp := s.path + ".tmp"

	// The file holds the control-plane password.
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}

	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace parameters: %w", err)
	}

	return nil
}
