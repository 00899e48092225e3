// Package sync reconciles the local visit store with the hosted booking
// portal: a pull-merge-push cycle plus the reservation endpoints the portal
// talks to.
package sync

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cabinetdz/cabinet-platform/internal/portal"
)

// markerPrefix tags a portal-imported visit. New rows carry the marker in
// the external_booking_id column; older rows embedded it in the visit
// description, which ExtractMarker still reads for backward migration.
const markerPrefix = "HostedBooking:"

var markerPattern = regexp.MustCompile(`HostedBooking:([^):\s]+)`)

// Marker derives the stable idempotency key for a remote booking. The
// portal's own id wins; portals that omit ids fall back to a composite of
// phone, date and specialty, which is stable across snapshots of the same
// booking.
func Marker(b portal.Booking) string {
	if id := strings.TrimSpace(b.ID); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%s-%s", strings.TrimSpace(b.Phone), strings.TrimSpace(b.Date), strings.TrimSpace(b.Specialty))
}

// MarkerDescription embeds a marker in a free-text description the way
// pre-migration rows stored it.
func MarkerDescription(marker string) string {
	return markerPrefix + marker
}

// ExtractMarker pulls the marker out of a visit description. The marker runs
// from the prefix to the next ')', ':', whitespace or end of string. Empty
// result means the visit is not portal-sourced.
func ExtractMarker(description string) string {
	m := markerPattern.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return m[1]
}
