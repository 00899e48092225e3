package sync

import (
	"testing"

	"github.com/cabinetdz/cabinet-platform/internal/portal"
)

func TestMarkerPrefersRemoteID(t *testing.T) {
	b := portal.Booking{ID: "bk_42", Phone: "0550123456", Date: "2025-03-10", Specialty: "Soin"}
	if got := Marker(b); got != "bk_42" {
		t.Fatalf("expected bk_42, got %q", got)
	}
}

func TestMarkerCompositeFallback(t *testing.T) {
	b := portal.Booking{Phone: "0550123456", Date: "2025-03-10", Specialty: "ODF"}
	want := "0550123456-2025-03-10-ODF"
	if got := Marker(b); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExtractMarkerRoundTrip(t *testing.T) {
	ids := []string{"bk_42", "0550123456-2025-03-10-ODF", "a1b2c3"}
	for _, id := range ids {
		desc := "note before (" + MarkerDescription(id) + ") note after"
		if got := ExtractMarker(desc); got != id {
			t.Errorf("round trip %q: got %q", id, got)
		}
	}
}

func TestExtractMarkerTerminators(t *testing.T) {
	cases := map[string]string{
		"HostedBooking:abc)":             "abc",
		"HostedBooking:abc def":          "abc",
		"HostedBooking:abc: note":        "abc",
		"HostedBooking:abc":              "abc",
		"plain human note":               "",
		"prefix text HostedBooking:x\ny": "x",
		"HostedBooking: leading space":   "",
	}
	for in, want := range cases {
		if got := ExtractMarker(in); got != want {
			t.Errorf("ExtractMarker(%q) = %q, want %q", in, got, want)
		}
	}
}
