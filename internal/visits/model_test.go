package visits

import (
	"testing"
	"time"
)

func TestNormalizeSpecialty(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Soin", SpecialtySoin},
		{"soin dentaire", SpecialtySoin},
		{"ODF", SpecialtyODF},
		{"odf adulte", SpecialtyODF},
		{"chirurgie", SpecialtyChirurgie},
		{"CHIRURGIE buccale", SpecialtyChirurgie},
		{"proteges", SpecialtyProteges},
		{"", SpecialtySoin},
		{"detartrage", SpecialtySoin},
		{"   ", SpecialtySoin},
	}
	for _, tt := range tests {
		if got := NormalizeSpecialty(tt.in); got != tt.want {
			t.Errorf("NormalizeSpecialty(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDayTruncation(t *testing.T) {
	ts := time.Date(2025, 3, 10, 14, 35, 12, 987, time.Local)
	day := Day(ts)
	if day.Hour() != 0 || day.Minute() != 0 || day.Second() != 0 || day.Nanosecond() != 0 {
		t.Errorf("Day should truncate to midnight, got %v", day)
	}
	if !Day(day).Equal(day) {
		t.Error("Day should be idempotent")
	}
	y, m, d := day.Date()
	if y != 2025 || m != time.March || d != 10 {
		t.Errorf("Day changed the calendar date: %v", day)
	}
}
