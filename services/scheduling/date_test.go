package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != (Date{Year: 2025, Month: time.March, Day: 9}) {
		t.Fatalf("got %+v", d)
	}
	if _, err := ParseDate("09/03/2025"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDateArithmetic(t *testing.T) {
	d := NewDate(2024, time.December, 30)
	if got := d.AddDays(3).String(); got != "2025-01-02" {
		t.Fatalf("AddDays across year end = %s", got)
	}
	if got := NewDate(2025, time.January, 32).String(); got != "2025-02-01" {
		t.Fatalf("NewDate did not normalize: %s", got)
	}
	if d.DaysUntil(d.AddDays(45)) != 45 {
		t.Fatalf("DaysUntil mismatch")
	}
	if !d.Before(d.AddDays(1)) || d.After(d) || d.Compare(d) != 0 {
		t.Fatalf("comparison mismatch")
	}
}

func TestDateScan(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)
	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{name: "local midnight", input: time.Date(2025, 1, 6, 0, 0, 0, 0, loc), want: "2025-01-06"},
		{name: "bytes", input: []byte("2025-01-06"), want: "2025-01-06"},
		{name: "datetime string", input: "2025-01-06 00:00:00", want: "2025-01-06"},
		{name: "rfc3339 string", input: "2025-01-06T00:00:00Z", want: "2025-01-06"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var d Date
			if err := d.Scan(tc.input); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.String() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, d)
			}
		})
	}
}

func TestDateJSON(t *testing.T) {
	var payload struct {
		Date Date      `json:"date"`
		At   TimeOfDay `json:"at"`
	}
	if err := json.Unmarshal([]byte(`{"date":"2025-01-06","at":"10:00"}`), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"date":"2025-01-06","at":"10:00"}` {
		t.Fatalf("unexpected json %s", out)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		input string
		want  TimeOfDay
	}{
		{"08:30", Clock(8, 30)},
		{"13:45:00", Clock(13, 45)},
		{" 00:00 ", 0},
	}
	for _, tc := range tests {
		got, err := ParseTimeOfDay(tc.input)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.input, tc.want, got)
		}
	}
	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Fatalf("expected error for 25:00")
	}
	if Clock(23, 45).Add(30).String() != "00:15" {
		t.Fatalf("Add must wrap at midnight")
	}
}
