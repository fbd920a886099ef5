package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/apd-alarms/internal/config"
	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

// Repository defines persistence operations for the alarm state.
type Repository interface {
	Load(ctx context.Context) (*domain.State, error)
	Save(ctx context.Context, state *domain.State) error
}

// Field names of the stored document.
const (
	fieldTimestamp = "timestamp"
	fieldScenario1 = "scenario1_active"
	fieldScenario2 = "scenario2_active"
	fieldCombined  = "combined"
)

var (
	// ErrNotFound is returned when the state file does not exist yet.
	ErrNotFound = errors.New("state not found")
	// ErrMalformedState is returned when the file is not a state document.
	ErrMalformedState = errors.New("malformed state file")
)

// FileRepository persists the alarm state to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromStruct(&document)
}

// Save writes the state to disk, replacing the file atomically.
func (r *FileRepository) Save(_ context.Context, state *domain.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := toStruct(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	data, err := protojson.MarshalOptions{Indent: "  "}.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"

	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// fromStruct converts the stored document into the domain State model.
func fromStruct(document *structpb.Struct) (*domain.State, error) {
	fields := document.GetFields()

	combined, ok := fields[fieldCombined].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, fmt.Errorf("field %q: %w", fieldCombined, ErrMalformedState)
	}

	state := &domain.State{
		Scenario1Active: fields[fieldScenario1].GetBoolValue(),
		Scenario2Active: fields[fieldScenario2].GetBoolValue(),
		Combined:        combined.BoolValue,
	}

	if raw := fields[fieldTimestamp].GetStringValue(); raw != "" {
		timestamp, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fieldTimestamp, err)
		}

		state.Timestamp = timestamp
	}

	return state, nil
}

// toStruct converts the domain State model into the stored document.
func toStruct(state *domain.State) (*structpb.Struct, error) {
	fields := map[string]any{
		fieldScenario1: state.Scenario1Active,
		fieldScenario2: state.Scenario2Active,
		fieldCombined:  state.Combined,
	}

	if !state.Timestamp.IsZero() {
		fields[fieldTimestamp] = state.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	return structpb.NewStruct(fields)
}
