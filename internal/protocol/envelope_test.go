package protocol

import (
	"testing"
	"time"
)

func TestParseTimestampFormats(t *testing.T) {
	cases := []string{
		"2026-08-24T10:15:00Z",
		"2026-08-24T10:15:00.123456789Z",
		"2026-08-24T10:15:00+02:00",
		"2026-08-24 10:15:00",
		Now(),
		NowUTC(),
	}
	for _, value := range cases {
		if _, err := ParseTimestamp(value); err != nil {
			t.Errorf("ParseTimestamp(%q): %v", value, err)
		}
	}
	if _, err := ParseTimestamp("24/08/2026"); err == nil {
		t.Error("slash-date accepted")
	}
}

func TestParseTimestampRoundTrip(t *testing.T) {
	want := time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC)
	got, err := ParseTimestamp(want.Format(time.RFC3339))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDecodeRejectsNonObject(t *testing.T) {
	for _, raw := range []string{"[1,2]", `"hello"`, "{", ""} {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Errorf("Decode(%q) accepted", raw)
		}
	}
}

func TestErrorAndWarningShapes(t *testing.T) {
	msg := ErrorMessage(CodeInvalidJSON, "bad frame")
	if msg[FieldType] != TypeError {
		t.Errorf("type = %v", msg[FieldType])
	}
	errBody, _ := msg["error"].(map[string]any)
	if errBody["code"] != CodeInvalidJSON || errBody["message"] != "bad frame" {
		t.Errorf("error body = %v", errBody)
	}

	warning := WarningMessage("DEPRECATED_TYPE", "use ally_query")
	if warning[FieldType] != TypeWarning {
		t.Errorf("type = %v", warning[FieldType])
	}
	if _, err := ParseTimestamp(warning[FieldTimestamp].(string)); err != nil {
		t.Errorf("warning timestamp malformed: %v", err)
	}
}
