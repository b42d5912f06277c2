package loggerstorage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// parseNaive parses a raw date/time representation into a naive
// timestamp (no zone attached; returned in time.UTC as a carrier).
//
// When layout is empty, ISO-8601 is accepted with an optional space
// instead of the T separator; a seconds component, if present, is
// ignored. When layout is set (a Go reference layout), it is applied
// literally. Either way the result has minute resolution: seconds are
// parsed and then discarded.
func parseNaive(raw, layout string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if layout != "" {
		t, err := time.Parse(layout, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
		}
		return t.Truncate(time.Minute), nil
	}

	// ISO-8601, truncated to minute resolution.
	if len(raw) > 16 {
		raw = raw[:16]
	}
	for _, l := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(l, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// tzResolver turns naive local timestamps into fixed-offset timestamps.
//
// Only the DST transition moments are computed from the timezone rules;
// once resolved, a timestamp keeps a constant UTC offset and is never
// adjusted again. A timestamp in the spring-forward gap is a data
// error. A timestamp in the fall-back repeated hour is disambiguated by
// stream order: the first occurrence takes the pre-transition offset,
// the second the post-transition offset. This relies on records
// arriving in increasing source order; loggers that switch their own
// clock for DST defeat it, which is an accepted limitation.
type tzResolver struct {
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time // injectable for the no-context policy

	last    time.Time // last resolved UTC instant
	hasLast bool
}

func newTZResolver(zone string, logger *slog.Logger) (*tzResolver, error) {
	loc, err := loadZone(zone)
	if err != nil {
		return nil, err
	}
	return &tzResolver{loc: loc, logger: logger, now: time.Now}, nil
}

// loadZone resolves the timezone parameter; the empty string means UTC.
func loadZone(zone string) (*time.Location, error) {
	if zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, configErrorf("unknown timezone %q", zone)
	}
	return loc, nil
}

// fresh returns a resolver with the same zone and clock but no ordering
// context, for scans that must not disturb the main stream (such as the
// file-ordering pass over a glob set).
func (r *tzResolver) fresh() *tzResolver {
	return &tzResolver{loc: r.loc, logger: r.logger, now: r.now}
}

// reset clears the ordering context. Called at the start of every full
// storage scan so that context never leaks across scans.
func (r *tzResolver) reset() {
	r.last = time.Time{}
	r.hasLast = false
}

// resolve maps a naive local timestamp to a single fixed-offset
// timestamp, applying the disambiguation policy described on the type.
func (r *tzResolver) resolve(naive time.Time) (time.Time, error) {
	if r.loc == time.UTC {
		t := time.Date(naive.Year(), naive.Month(), naive.Day(),
			naive.Hour(), naive.Minute(), 0, 0, time.UTC)
		r.remember(t)
		return t, nil
	}

	candidates := r.candidates(naive)
	switch len(candidates) {
	case 0:
		return time.Time{}, fmt.Errorf(
			"local time %s does not exist in %s (spring-forward gap)",
			naive.Format("2006-01-02 15:04"), r.loc)
	case 1:
		t := r.fixed(candidates[0])
		r.remember(t)
		return t, nil
	}

	// Ambiguous: candidates[0] is the pre-transition (earlier UTC)
	// instant, candidates[1] the post-transition one.
	pre, post := candidates[0], candidates[1]
	var chosen time.Time
	switch {
	case r.hasLast && !pre.After(r.last):
		chosen = post // already past the first occurrence
	case r.hasLast:
		chosen = pre
	default:
		chosen = r.resolveWithoutContext(naive, pre, post)
	}
	r.logger.Debug("resolved ambiguous local time",
		"local", naive.Format("2006-01-02 15:04"),
		"zone", r.loc.String(),
		"utc", chosen.UTC().Format(time.RFC3339))
	t := r.fixed(chosen)
	r.remember(t)
	return t, nil
}

// resolveWithoutContext applies the policy for the very first ambiguous
// record of a scan: assume the pre-transition offset unless the host
// clock shows that this calendar instance of the transition has already
// passed.
func (r *tzResolver) resolveWithoutContext(naive time.Time, pre, post time.Time) time.Time {
	now := r.now()
	nowLocal := now.In(r.loc)
	nowNaive := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(),
		nowLocal.Hour(), nowLocal.Minute(), 0, 0, time.UTC)
	sameInstance := absDuration(nowNaive.Sub(naive)) < 24*time.Hour
	if sameInstance && now.After(post) {
		return post
	}
	return pre
}

// candidates returns the UTC instants whose local representation in
// r.loc matches the naive clock, in ascending order. Zero candidates
// means the naive time falls in a spring-forward gap; two means it
// falls in a fall-back repeated hour.
func (r *tzResolver) candidates(naive time.Time) []time.Time {
	base := time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), 0, 0, r.loc)

	offsets := make(map[int]bool)
	for _, probe := range []time.Time{base.Add(-24 * time.Hour), base, base.Add(24 * time.Hour)} {
		_, off := probe.Zone()
		offsets[off] = true
	}

	asUTC := time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), 0, 0, time.UTC)

	var result []time.Time
	for off := range offsets {
		cand := asUTC.Add(-time.Duration(off) * time.Second)
		if sameClock(cand.In(r.loc), naive) {
			result = append(result, cand)
		}
	}
	// Ascending UTC order: the earlier instant carries the
	// pre-transition offset.
	if len(result) == 2 && result[0].After(result[1]) {
		result[0], result[1] = result[1], result[0]
	}
	return result
}

// fixed re-expresses a UTC instant with the constant offset it has in
// r.loc, so downstream code never needs the timezone rules again.
func (r *tzResolver) fixed(t time.Time) time.Time {
	local := t.In(r.loc)
	name, off := local.Zone()
	return local.In(time.FixedZone(name, off))
}

func (r *tzResolver) remember(t time.Time) {
	r.last = t.UTC()
	r.hasLast = true
}

func sameClock(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
