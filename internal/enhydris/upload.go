package enhydris

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openhydro/loggersync/internal/loggerstorage"
	"github.com/openhydro/loggersync/internal/report"
)

// Upload reads everything the storage holds that is newer than what the
// server already has and appends it, one series group at a time. Groups
// are processed in ascending order of their server end date, so that
// the storage's read-ahead cache is filled once and reused for the
// later groups.
func (c *Client) Upload(ctx context.Context, st loggerstorage.Storage, rep *report.Summary) error {
	type pending struct {
		groupID int
		endDate time.Time
	}

	groups := st.TimeseriesGroupIDs()
	queue := make([]pending, 0, len(groups))
	for _, gid := range groups {
		end, err := c.GetTsEndDate(ctx, st.StationID(), gid, st.Location())
		if err != nil {
			return fmt.Errorf("get end date of group %d: %w", gid, err)
		}
		queue = append(queue, pending{groupID: gid, endDate: end})
	}
	sort.Slice(queue, func(i, j int) bool {
		if !queue[i].endDate.Equal(queue[j].endDate) {
			return queue[i].endDate.Before(queue[j].endDate)
		}
		return queue[i].groupID < queue[j].groupID
	})

	for _, p := range queue {
		records, err := st.GetRecentData(p.groupID, p.endDate)
		if err != nil {
			return fmt.Errorf("read records of group %d: %w", p.groupID, err)
		}
		if len(records) == 0 {
			c.logger.Info("no new records",
				"section", st.Section(), "group_id", p.groupID)
			continue
		}
		if err := c.PostTsData(ctx, st.StationID(), p.groupID, records); err != nil {
			return fmt.Errorf("upload records of group %d: %w", p.groupID, err)
		}
		if rep != nil {
			rep.Add(p.groupID, records)
		}
	}
	return nil
}
