package lineageevent

import (
	"context"
	"strings"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		OccurredAt:  time.Unix(1700000000, 0).UTC(),
		Actor:       "trainer",
		RunID:       "2024_01_02T03_04_05Z",
		SubjectType: "validation_artifact",
		SubjectID:   "/work/artifacts/2024_01_02T03_04_05Z/data_validation/validated/validated.csv",
		Predicate:   "derived_from",
		ObjectType:  "ingestion_artifact",
		ObjectID:    "/work/artifacts/2024_01_02T03_04_05Z/data_ingestion/ingested/ingested.csv",
	}
}

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := sampleEvent()
	metadataJSON := []byte(`{"status":true,"rows":99}`)

	a, err := ComputeIntegritySHA256(event, metadataJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, metadataJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnMetadata(t *testing.T) {
	event := sampleEvent()

	a, err := ComputeIntegritySHA256(event, []byte(`{"rows":99}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"rows":100}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

func TestComputeIntegritySHA256_ChangesOnRunID(t *testing.T) {
	event := sampleEvent()
	a, _ := ComputeIntegritySHA256(event, []byte(`{}`))
	event.RunID = "2024_01_02T03_04_06Z"
	b, _ := ComputeIntegritySHA256(event, []byte(`{}`))
	if a == b {
		t.Fatalf("expected integrity to differ across runs")
	}
}

func TestValidate_RequiresRunID(t *testing.T) {
	event := sampleEvent()
	event.RunID = " "
	err := event.Validate()
	if err == nil || !strings.Contains(err.Error(), "RunID") {
		t.Fatalf("Validate() err=%v, want RunID error", err)
	}
}

func TestInsert_RequiresQueryer(t *testing.T) {
	if _, err := Insert(context.Background(), nil, sampleEvent()); err == nil {
		t.Fatalf("Insert() expected error for nil queryer")
	}
}
