package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(EventStartQuestion, "s1", "m1", at, StartQuestionData{
		QuestionID:  "q1",
		Prompt:      "What is 2 + 2?",
		Options:     []string{"3", "4"},
		TimeLimitMS: 30000,
		Points:      100,
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.Timestamp != at.UnixMilli() {
		t.Fatalf("timestamp = %d, want millis", env.Timestamp)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, err := decoded.DecodeData()
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	payload, ok := data.(*StartQuestionData)
	if !ok {
		t.Fatalf("payload type = %T", data)
	}
	if payload.QuestionID != "q1" || payload.TimeLimitMS != 30000 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestEnvelopeRejectsUnknownType(t *testing.T) {
	env := Envelope{Type: "SOMETHING_ELSE"}
	if _, err := env.DecodeData(); err == nil {
		t.Fatal("expected error for unknown envelope type")
	}
}

func TestQuestionJSONHidesCorrectOption(t *testing.T) {
	raw, err := json.Marshal(Question{
		ID:            "q1",
		Prompt:        "What is 2 + 2?",
		Options:       []string{"3", "4"},
		CorrectOption: 1,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "orrect") {
		t.Fatalf("question JSON leaks the answer: %s", raw)
	}
}

func TestBasePointsDefault(t *testing.T) {
	if got := (Question{}).BasePoints(); got != 100 {
		t.Fatalf("default base points = %d, want 100", got)
	}
	if got := (Question{Points: 250}).BasePoints(); got != 250 {
		t.Fatalf("explicit base points = %d, want 250", got)
	}
}
