package schedule

import (
	"errors"
	"strconv"

	marketerr "luxmarket/core/errors"
)

const (
	SecondsPerDay  = 86400
	SecondsPerWeek = 7 * SecondsPerDay
	// MaxSeconds caps both listing durations and the fallback listing delay.
	MaxSeconds = 365 * SecondsPerDay

	// DefaultDurationID is the duration seeded at genesis.
	DefaultDurationID = 0
	// DefaultDuration is 56 days.
	DefaultDuration = 56 * SecondsPerDay
)

var (
	errNilState = errors.New("schedule: state not configured")

	ErrUnknownSchedule  = errors.New("schedule: schedule id not allocated")
	ErrScheduleGap      = errors.New("schedule: schedule id skips the next free slot")
	ErrInvalidDuration  = errors.New("schedule: duration must be within (0, 365 days]")
	ErrDurationNotFound = errors.New("schedule: duration not configured")
	ErrDelayTooLong     = errors.New("schedule: listing delay exceeds 365 days")
	ErrBatchLength      = errors.New("schedule: batch slices differ in length")
)

var (
	slotPrefix     = []byte("schedule/slot/")
	durationPrefix = []byte("schedule/duration/")
	countKey       = []byte("schedule/count")
	delayKey       = []byte("schedule/listing-delay")
)

// Schedule is a weekly recurring activation slot. DayOfWeek runs from 1
// (Monday) to 7 (Sunday).
type Schedule struct {
	ID        uint64
	DayOfWeek uint8
	Hour      uint8
	Minute    uint8
	Active    bool
}

// ValidSlot reports whether the supplied day, hour and minute are in range.
func ValidSlot(day, hour, minute uint8) bool {
	return day >= 1 && day <= 7 && hour <= 23 && minute <= 59
}

// Weekday returns the ISO weekday (1=Monday..7=Sunday) of a unix timestamp.
// Epoch day 0 was a Thursday.
func Weekday(ts uint64) uint8 {
	return uint8(((ts/SecondsPerDay)+3)%7 + 1)
}

// NextFireTime returns the earliest instant strictly after now at which any
// active slot fires. When no slot is active the result is now+delay. A slot
// firing exactly at now rolls to the following week.
func NextFireTime(now uint64, slots []Schedule, delay uint64) uint64 {
	dayStart := now - now%SecondsPerDay
	today := uint64(Weekday(now))
	var (
		best  uint64
		found bool
	)
	for _, slot := range slots {
		if !slot.Active {
			continue
		}
		days := (uint64(slot.DayOfWeek) + 7 - today) % 7
		candidate := dayStart + days*SecondsPerDay + uint64(slot.Hour)*3600 + uint64(slot.Minute)*60
		if days == 0 && candidate <= now {
			candidate += SecondsPerWeek
		}
		if !found || candidate < best {
			best = candidate
			found = true
		}
	}
	if !found {
		return now + delay
	}
	return best
}

type resolverState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Resolver owns the weekly activation slots, the fallback listing delay and
// the listing duration table.
type Resolver struct {
	state resolverState
}

// NewResolver binds a resolver to the supplied state backend.
func NewResolver(state resolverState) *Resolver {
	return &Resolver{state: state}
}

func slotKey(id uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), slotPrefix...), id, 10)
}

func durationKey(id uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), durationPrefix...), id, 10)
}

func (r *Resolver) ready() error {
	if r == nil || r.state == nil {
		return errNilState
	}
	return nil
}

// ScheduleCount returns the high-water mark of allocated schedule ids.
func (r *Resolver) ScheduleCount() (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	var count uint64
	if _, err := r.state.KVGet(countKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// SetSchedule inserts or replaces slot id. Ids are dense: id must name an
// existing slot or be exactly the high-water mark. Out-of-range slot values
// are reported by returning false without touching state, so batch callers can
// skip them.
func (r *Resolver) SetSchedule(id uint64, day, hour, minute uint8) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	if !ValidSlot(day, hour, minute) {
		return false, nil
	}
	count, err := r.ScheduleCount()
	if err != nil {
		return false, err
	}
	if id > count {
		return false, marketerr.Validation(ErrScheduleGap, "id %d, next %d", id, count)
	}
	slot := &Schedule{ID: id, DayOfWeek: day, Hour: hour, Minute: minute, Active: true}
	if err := r.state.KVPut(slotKey(id), slot); err != nil {
		return false, err
	}
	if id == count {
		if err := r.state.KVPut(countKey, count+1); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SetSchedules applies a batch of upserts. The returned slice holds the
// positions of entries skipped for being out of range.
func (r *Resolver) SetSchedules(ids []uint64, days, hours, minutes []uint8) ([]int, error) {
	if len(ids) != len(days) || len(ids) != len(hours) || len(ids) != len(minutes) {
		return nil, marketerr.Validation(ErrBatchLength, "ids=%d days=%d hours=%d minutes=%d", len(ids), len(days), len(hours), len(minutes))
	}
	var skipped []int
	for i := range ids {
		ok, err := r.SetSchedule(ids[i], days[i], hours[i], minutes[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped = append(skipped, i)
		}
	}
	return skipped, nil
}

// DeactivateSchedule soft-deletes a slot.
func (r *Resolver) DeactivateSchedule(id uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	count, err := r.ScheduleCount()
	if err != nil {
		return err
	}
	if id >= count {
		return marketerr.Validation(ErrUnknownSchedule, "%d", id)
	}
	slot, ok, err := r.Schedule(id)
	if err != nil {
		return err
	}
	if !ok {
		return marketerr.Validation(ErrUnknownSchedule, "%d", id)
	}
	slot.Active = false
	return r.state.KVPut(slotKey(id), &slot)
}

// Schedule returns slot id and whether it was ever written.
func (r *Resolver) Schedule(id uint64) (Schedule, bool, error) {
	if err := r.ready(); err != nil {
		return Schedule{}, false, err
	}
	var slot Schedule
	ok, err := r.state.KVGet(slotKey(id), &slot)
	if err != nil || !ok {
		return Schedule{}, false, err
	}
	return slot, true, nil
}

// Schedules returns every written slot below the high-water mark.
func (r *Resolver) Schedules() ([]Schedule, error) {
	count, err := r.ScheduleCount()
	if err != nil {
		return nil, err
	}
	var slots []Schedule
	for id := uint64(0); id < count; id++ {
		slot, ok, err := r.Schedule(id)
		if err != nil {
			return nil, err
		}
		if ok {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// ActiveScheduleCount scans all slots and counts the active ones.
func (r *Resolver) ActiveScheduleCount() (uint64, error) {
	slots, err := r.Schedules()
	if err != nil {
		return 0, err
	}
	var active uint64
	for _, slot := range slots {
		if slot.Active {
			active++
		}
	}
	return active, nil
}

// NextScheduleTime resolves the next activation instant after now.
func (r *Resolver) NextScheduleTime(now uint64) (uint64, error) {
	slots, err := r.Schedules()
	if err != nil {
		return 0, err
	}
	delay, err := r.ListingDelay()
	if err != nil {
		return 0, err
	}
	return NextFireTime(now, slots, delay), nil
}

// SetListingDelay configures the fallback used when no slot is active.
func (r *Resolver) SetListingDelay(seconds uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if seconds > MaxSeconds {
		return marketerr.Validation(ErrDelayTooLong, "%d", seconds)
	}
	return r.state.KVPut(delayKey, seconds)
}

func (r *Resolver) ListingDelay() (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	var delay uint64
	if _, err := r.state.KVGet(delayKey, &delay); err != nil {
		return 0, err
	}
	return delay, nil
}

// SetDuration configures a listing duration in seconds.
func (r *Resolver) SetDuration(id, seconds uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if seconds == 0 || seconds > MaxSeconds {
		return marketerr.Validation(ErrInvalidDuration, "%d", seconds)
	}
	return r.state.KVPut(durationKey(id), seconds)
}

// RemoveDuration deletes a configured duration.
func (r *Resolver) RemoveDuration(id uint64) error {
	if _, ok, err := r.Duration(id); err != nil {
		return err
	} else if !ok {
		return marketerr.Validation(ErrDurationNotFound, "%d", id)
	}
	return r.state.KVDelete(durationKey(id))
}

// Duration returns the seconds configured for id.
func (r *Resolver) Duration(id uint64) (uint64, bool, error) {
	if err := r.ready(); err != nil {
		return 0, false, err
	}
	var seconds uint64
	ok, err := r.state.KVGet(durationKey(id), &seconds)
	if err != nil || !ok {
		return 0, false, err
	}
	return seconds, seconds > 0, nil
}
