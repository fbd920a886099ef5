package alarm

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

// Struct field names.
const (
	fieldTimestamp = "timestamp"
	fieldScenario1 = "scenario1_active"
	fieldScenario2 = "scenario2_active"
	fieldCombined  = "combined"
)

// ErrMalformedState is returned for documents without the combined flag.
var ErrMalformedState = errors.New("malformed alarm state")

// toProtoState converts a domain.State into its Struct document.
func toProtoState(state *domain.State) *structpb.Struct {
	if state == nil {
		state = new(domain.State)
	}

	fields := map[string]*structpb.Value{
		fieldScenario1: structpb.NewBoolValue(state.Scenario1Active),
		fieldScenario2: structpb.NewBoolValue(state.Scenario2Active),
		fieldCombined:  structpb.NewBoolValue(state.Combined),
	}

	if !state.Timestamp.IsZero() {
		fields[fieldTimestamp] = structpb.NewStringValue(state.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}
}

// fromProtoState converts a Struct document into a domain.State.
func fromProtoState(document *structpb.Struct) (*domain.State, error) {
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
