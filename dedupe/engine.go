// Package dedupe elects exactly one primary record per logical metric when
// multiple connected sources report the same real-world event, so summaries
// built on primary rows never double count.
package dedupe

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/goliatone/go-wearables/core"
)

// Engine computes dedupe assignments. Every method is a pure function of the
// rows and the priority configuration: re-running on unchanged data yields an
// identical assignment, so callers invoke it after every sync.
type Engine struct {
	cfg core.DedupeConfig
}

func NewEngine(cfg core.DedupeConfig) *Engine {
	defaults := core.DefaultConfig().Dedupe
	if cfg.WorkoutStartTolerance <= 0 {
		cfg.WorkoutStartTolerance = defaults.WorkoutStartTolerance
	}
	if cfg.BodyStartTolerance <= 0 {
		cfg.BodyStartTolerance = defaults.BodyStartTolerance
	}
	if cfg.OverlapFraction <= 0 || cfg.OverlapFraction > 1 {
		cfg.OverlapFraction = defaults.OverlapFraction
	}
	if cfg.ValueSimilarityThreshold <= 0 || cfg.ValueSimilarityThreshold >= 1 {
		cfg.ValueSimilarityThreshold = defaults.ValueSimilarityThreshold
	}
	return &Engine{cfg: cfg}
}

// dayMember is the shape day-keyed election works on, shared by activity,
// sleep, and heart records.
type dayMember struct {
	recordID string
	source   core.SourceType
	orderKey string
}

// AssignActivities groups same-day activity aggregates per customer, elects
// the highest-priority source, and demotes health-store mirrors of a direct
// source through the double-count guard.
func (e *Engine) AssignActivities(records []core.ActivityRecord, override *core.SourcePriority) []core.DedupeAssignment {
	if e == nil || len(records) == 0 {
		return nil
	}
	ordering := core.EffectivePriority(override, core.DataActivity)

	groups := map[string][]core.ActivityRecord{}
	for _, record := range records {
		key := dayGroupID("activity", record.CustomerID, record.Date)
		groups[key] = append(groups[key], record)
	}

	assignments := make([]core.DedupeAssignment, 0, len(records))
	for _, key := range sortedKeys(groups) {
		group := groups[key]
		members := make([]dayMember, 0, len(group))
		demoted := map[string]bool{}
		for _, record := range group {
			members = append(members, dayMember{
				recordID: record.ID,
				source:   record.SourceType,
				orderKey: record.SourceRecordID,
			})
			if record.SourceType.Native() && e.mirrorsDirectSource(record, group) {
				demoted[record.ID] = true
			}
		}
		assignments = append(assignments, electDay(key, members, ordering, demoted)...)
	}
	return assignments
}

// AssignSleep elects one primary sleep record per (customer, date).
func (e *Engine) AssignSleep(records []core.SleepRecord, override *core.SourcePriority) []core.DedupeAssignment {
	if e == nil || len(records) == 0 {
		return nil
	}
	ordering := core.EffectivePriority(override, core.DataSleep)

	groups := map[string][]dayMember{}
	for _, record := range records {
		key := dayGroupID("sleep", record.CustomerID, record.Date)
		groups[key] = append(groups[key], dayMember{
			recordID: record.ID,
			source:   record.SourceType,
			orderKey: record.SourceRecordID,
		})
	}
	return electDayGroups(groups, ordering)
}

// AssignHeart elects one primary heart sample per (customer, day).
func (e *Engine) AssignHeart(samples []core.HeartSample, override *core.SourcePriority) []core.DedupeAssignment {
	if e == nil || len(samples) == 0 {
		return nil
	}
	ordering := core.EffectivePriority(override, core.DataHeart)

	groups := map[string][]dayMember{}
	for _, sample := range samples {
		key := dayGroupID("heart", sample.CustomerID, sample.RecordedAt)
		groups[key] = append(groups[key], dayMember{
			recordID: sample.ID,
			source:   sample.SourceType,
			orderKey: sample.SourceRecordID,
		})
	}
	return electDayGroups(groups, ordering)
}

// rangedMember is the shape time-ranged grouping works on.
type rangedMember struct {
	recordID string
	source   core.SourceType
	orderKey string
	start    time.Time
	end      time.Time
}

// AssignWorkouts groups workouts that describe the same session even when two
// sources logged it at slightly different timestamps: start times within the
// tolerance, or ranges overlapping at least the configured fraction of the
// shorter duration.
func (e *Engine) AssignWorkouts(records []core.WorkoutRecord, override *core.SourcePriority) []core.DedupeAssignment {
	if e == nil || len(records) == 0 {
		return nil
	}
	ordering := core.EffectivePriority(override, core.DataWorkout)

	byCustomer := map[string][]rangedMember{}
	for _, record := range records {
		byCustomer[record.CustomerID] = append(byCustomer[record.CustomerID], rangedMember{
			recordID: record.ID,
			source:   record.SourceType,
			orderKey: record.SourceRecordID,
			start:    record.StartTime.UTC(),
			end:      record.EndTime.UTC(),
		})
	}

	var assignments []core.DedupeAssignment
	for _, customerID := range sortedKeys(byCustomer) {
		groups := clusterRanged(byCustomer[customerID], e.workoutsMatch)
		for _, group := range groups {
			groupID := rangedGroupID("workout", customerID, group)
			assignments = append(assignments, electRanged(groupID, group, ordering)...)
		}
	}
	return assignments
}

// AssignBody groups body measurements taken within the start tolerance of
// each other. Measurements are instants, so the overlap test never applies.
func (e *Engine) AssignBody(records []core.BodyRecord, override *core.SourcePriority) []core.DedupeAssignment {
	if e == nil || len(records) == 0 {
		return nil
	}
	ordering := core.EffectivePriority(override, core.DataBody)

	byCustomer := map[string][]rangedMember{}
	for _, record := range records {
		byCustomer[record.CustomerID] = append(byCustomer[record.CustomerID], rangedMember{
			recordID: record.ID,
			source:   record.SourceType,
			orderKey: record.SourceRecordID,
			start:    record.MeasuredAt.UTC(),
		})
	}

	var assignments []core.DedupeAssignment
	for _, customerID := range sortedKeys(byCustomer) {
		groups := clusterRanged(byCustomer[customerID], e.bodyMatch)
		for _, group := range groups {
			groupID := rangedGroupID("body", customerID, group)
			assignments = append(assignments, electRanged(groupID, group, ordering)...)
		}
	}
	return assignments
}

func (e *Engine) workoutsMatch(a, b rangedMember) bool {
	if absDuration(a.start.Sub(b.start)) <= e.cfg.WorkoutStartTolerance {
		return true
	}
	return overlapFractionOfShorter(a, b) >= e.cfg.OverlapFraction
}

func (e *Engine) bodyMatch(a, b rangedMember) bool {
	return absDuration(a.start.Sub(b.start)) <= e.cfg.BodyStartTolerance
}

// mirrorsDirectSource reports whether a health-store aggregate is close
// enough to any same-day direct source to be judged the same underlying data
// relayed twice.
func (e *Engine) mirrorsDirectSource(record core.ActivityRecord, group []core.ActivityRecord) bool {
	for _, other := range group {
		if other.ID == record.ID || other.SourceType.Native() {
			continue
		}
		if withinThreshold(float64(record.Steps), float64(other.Steps), e.cfg.ValueSimilarityThreshold) {
			return true
		}
		if withinThreshold(record.CaloriesOut, other.CaloriesOut, e.cfg.ValueSimilarityThreshold) {
			return true
		}
	}
	return false
}

// withinThreshold compares two positive values by their relative difference
// against the larger one.
func withinThreshold(a, b, threshold float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	larger := math.Max(a, b)
	return math.Abs(a-b)/larger < threshold
}

// clusterRanged partitions members into groups where each member matches at
// least one other member transitively. Quadratic per customer, which is fine
// for day-scale batches.
func clusterRanged(members []rangedMember, match func(a, b rangedMember) bool) [][]rangedMember {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].start.Equal(members[j].start) {
			return members[i].start.Before(members[j].start)
		}
		if members[i].source != members[j].source {
			return members[i].source < members[j].source
		}
		return members[i].orderKey < members[j].orderKey
	})

	parent := make([]int, len(members))
	for i := range parent {
		parent[i] = i
	}
	var find func(i int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if match(members[i], members[j]) {
				union(i, j)
			}
		}
	}

	grouped := map[int][]rangedMember{}
	order := []int{}
	for i, member := range members {
		root := find(i)
		if _, seen := grouped[root]; !seen {
			order = append(order, root)
		}
		grouped[root] = append(grouped[root], member)
	}

	groups := make([][]rangedMember, 0, len(order))
	for _, root := range order {
		groups = append(groups, grouped[root])
	}
	return groups
}

func electDayGroups(groups map[string][]dayMember, ordering []core.SourceType) []core.DedupeAssignment {
	var assignments []core.DedupeAssignment
	for _, key := range sortedKeys(groups) {
		assignments = append(assignments, electDay(key, groups[key], ordering, nil)...)
	}
	return assignments
}

// electDay marks the first source of the effective ordering present in the
// group as primary. Demoted members never win even when their source leads
// the ordering.
func electDay(groupID string, members []dayMember, ordering []core.SourceType, demoted map[string]bool) []core.DedupeAssignment {
	sort.Slice(members, func(i, j int) bool {
		if members[i].source != members[j].source {
			return members[i].source < members[j].source
		}
		return members[i].orderKey < members[j].orderKey
	})

	primaryID := ""
	for _, source := range effectiveOrdering(ordering, daySources(members)) {
		for _, member := range members {
			if member.source != source || demoted[member.recordID] {
				continue
			}
			primaryID = member.recordID
			break
		}
		if primaryID != "" {
			break
		}
	}
	// Every eligible member was demoted; keep the election rather than
	// leave the day without a primary.
	if primaryID == "" && len(members) > 0 {
		primaryID = members[0].recordID
	}

	assignments := make([]core.DedupeAssignment, 0, len(members))
	for _, member := range members {
		assignments = append(assignments, core.DedupeAssignment{
			RecordID:      member.recordID,
			IsPrimary:     member.recordID == primaryID,
			DedupeGroupID: groupID,
		})
	}
	return assignments
}

func electRanged(groupID string, members []rangedMember, ordering []core.SourceType) []core.DedupeAssignment {
	asDay := make([]dayMember, 0, len(members))
	for _, member := range members {
		asDay = append(asDay, dayMember{
			recordID: member.recordID,
			source:   member.source,
			orderKey: member.start.Format(time.RFC3339) + "|" + member.orderKey,
		})
	}
	return electDay(groupID, asDay, ordering, nil)
}

// effectiveOrdering appends any present source the ordering omits, so a
// partial user override still elects something deterministic.
func effectiveOrdering(ordering []core.SourceType, present map[core.SourceType]bool) []core.SourceType {
	seen := map[core.SourceType]bool{}
	out := make([]core.SourceType, 0, len(ordering))
	for _, source := range ordering {
		if !seen[source] {
			seen[source] = true
			out = append(out, source)
		}
	}
	missing := []core.SourceType{}
	for source := range present {
		if !seen[source] {
			missing = append(missing, source)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return append(out, missing...)
}

func daySources(members []dayMember) map[core.SourceType]bool {
	present := map[core.SourceType]bool{}
	for _, member := range members {
		present[member.source] = true
	}
	return present
}

func dayGroupID(metric, customerID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", metric, customerID, core.DayOf(at).Format("2006-01-02"))
}

// rangedGroupID keys the group by its earliest member start, which is stable
// across re-runs on unchanged rows.
func rangedGroupID(metric, customerID string, members []rangedMember) string {
	earliest := members[0].start
	for _, member := range members[1:] {
		if member.start.Before(earliest) {
			earliest = member.start
		}
	}
	return fmt.Sprintf("%s:%s:%s", metric, customerID, earliest.UTC().Format(time.RFC3339))
}

func overlapFractionOfShorter(a, b rangedMember) float64 {
	if a.end.IsZero() || b.end.IsZero() {
		return 0
	}
	aDur := a.end.Sub(a.start)
	bDur := b.end.Sub(b.start)
	if aDur <= 0 || bDur <= 0 {
		return 0
	}
	start := a.start
	if b.start.After(start) {
		start = b.start
	}
	end := a.end
	if b.end.Before(end) {
		end = b.end
	}
	overlap := end.Sub(start)
	if overlap <= 0 {
		return 0
	}
	shorter := aDur
	if bDur < shorter {
		shorter = bDur
	}
	return float64(overlap) / float64(shorter)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
