package visits

import (
	"context"
	"fmt"
	"time"
)

// MarkMissedBefore bulk-transitions visits dated strictly before the given
// day that are still SCHEDULED or WAITING to MISSED. A single UPDATE makes
// it idempotent and safe under concurrent callers: a rerun finds nothing
// left to touch.
func (s *Store) MarkMissedBefore(ctx context.Context, q Querier, day time.Time) (int64, error) {
	tag, err := s.q(q).Exec(ctx, `
		UPDATE visits
		SET status = $2, updated_at = now()
		WHERE date::date < $1::date AND status IN ($3, $4)`,
		Day(day), StatusMissed, StatusScheduled, StatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("visits: mark missed: %w", err)
	}
	return tag.RowsAffected(), nil
}
