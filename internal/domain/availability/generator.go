package availability

import (
	"sort"
	"time"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBusy      SlotStatus = "busy"
)

const dateLayout = "2006-01-02"

// AvailableSlot is one cell of the slot grid. Busy slots are kept so callers
// can render taken time next to bookable time.
type AvailableSlot struct {
	Start  time.Time  `json:"start"`
	End    time.Time  `json:"end"`
	Date   string     `json:"date"`
	Status SlotStatus `json:"status"`
}

func (s AvailableSlot) Available() bool { return s.Status == SlotAvailable }

func (s AvailableSlot) Period() TimePeriod { return TimePeriod{Start: s.Start, End: s.End} }

// DayPlan is the slot configuration for one calendar day. Date carries the
// day in the office location; only its calendar date is used.
type DayPlan struct {
	Date   time.Time
	Config SlotConfiguration
}

// SlotGenerator lays a fixed grid over work periods and tags each slot
// against a set of busy periods.
type SlotGenerator struct {
	busy []TimePeriod
}

// NewSlotGenerator copies busy, dropping empty periods, and orders it by start.
func NewSlotGenerator(busy []TimePeriod) *SlotGenerator {
	sorted := make([]TimePeriod, 0, len(busy))
	for _, b := range busy {
		if !b.IsEmpty() {
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	return &SlotGenerator{busy: sorted}
}

// Generate produces the slots of every plan in order.
func (g *SlotGenerator) Generate(plans []DayPlan) []AvailableSlot {
	var slots []AvailableSlot
	for _, plan := range plans {
		slots = append(slots, g.ForDay(plan)...)
	}
	return slots
}

// ForDay emits [cursor, cursor+duration) for every cursor stepping by
// duration+buffer from each period start while the slot still fits in the
// period. A plan with a non-positive duration or step yields no slots.
func (g *SlotGenerator) ForDay(plan DayPlan) []AvailableSlot {
	cfg := plan.Config
	if cfg.SlotDuration <= 0 || cfg.Step() <= 0 {
		return nil
	}

	periods := make([]TimePeriod, 0, len(cfg.Periods))
	for _, p := range cfg.Periods {
		if !p.IsEmpty() {
			periods = append(periods, p)
		}
	}
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Start.Before(periods[j].Start)
	})

	date := plan.Date.Format(dateLayout)
	var slots []AvailableSlot
	for _, p := range periods {
		for cursor := p.Start; !cursor.Add(cfg.SlotDuration).After(p.End); cursor = cursor.Add(cfg.Step()) {
			slot := AvailableSlot{
				Start:  cursor,
				End:    cursor.Add(cfg.SlotDuration),
				Date:   date,
				Status: SlotAvailable,
			}
			if g.isBusy(slot.Start, slot.End) {
				slot.Status = SlotBusy
			}
			slots = append(slots, slot)
		}
	}
	return slots
}

func (g *SlotGenerator) isBusy(start, end time.Time) bool {
	for _, b := range g.busy {
		if !b.Start.Before(end) {
			return false
		}
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// GenerateSlots is a convenience for a single day.
func GenerateSlots(date time.Time, cfg SlotConfiguration, busy []TimePeriod) []AvailableSlot {
	return NewSlotGenerator(busy).ForDay(DayPlan{Date: date, Config: cfg})
}
