package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGeofenceEventMarshalsDwellAsMilliseconds(t *testing.T) {
	dwell := 2 * time.Minute
	event := GeofenceEvent{
		ID:            uuid.New(),
		GeofenceID:    uuid.New(),
		GeofenceName:  "Depot",
		DeviceID:      "truck-1",
		DeviceName:    "Truck 1",
		Type:          EventTypeExit,
		Time:          time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		DwellDuration: &dwell,
		Status:        EventStatusPending,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}

	if got := payload["dwellDurationMs"]; got != float64(120000) {
		t.Errorf("dwellDurationMs = %v, want 120000", got)
	}

	var back GeofenceEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	if back.DwellDuration == nil || *back.DwellDuration != dwell {
		t.Errorf("round-trip DwellDuration = %v, want %v", back.DwellDuration, dwell)
	}
}

func TestGeofenceEventOmitsDwellWhenUnset(t *testing.T) {
	event := GeofenceEvent{
		ID:   uuid.New(),
		Type: EventTypeEnter,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if _, ok := payload["dwellDurationMs"]; ok {
		t.Error("dwellDurationMs present for event without dwell")
	}
}

func TestGeofenceDwellThresholdMillisecondsRoundTrip(t *testing.T) {
	var gf Geofence
	if err := json.Unmarshal([]byte(`{"name":"Depot","kind":"circle","dwellThresholdMs":120000}`), &gf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if gf.DwellThreshold == nil || *gf.DwellThreshold != 2*time.Minute {
		t.Fatalf("DwellThreshold = %v, want 2m", gf.DwellThreshold)
	}

	data, err := json.Marshal(gf)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if got := payload["dwellThresholdMs"]; got != float64(120000) {
		t.Errorf("dwellThresholdMs = %v, want 120000", got)
	}
}
