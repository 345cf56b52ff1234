// Package availability проверяет допустимость запрошенного слота доставки.
package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/barter-system/internal/model"
)

// Минимальный запас времени на подготовку заказа при доставке «сегодня».
const LeadTime = 45 * time.Minute

// ErrTooSoon возвращается, если до запрошенного времени меньше запаса на подготовку.
var (
	ErrTooSoon = errors.New("requested time is too soon")
	// ErrCityClosed возвращается при полной блокировке даты для города.
	ErrCityClosed = errors.New("city is closed for the requested date")
	// ErrSlotBlocked возвращается, если время попадает в заблокированный интервал.
	ErrSlotBlocked = errors.New("requested slot is blocked")
	// ErrOutsideHours возвращается, если время вне расписания города.
	ErrOutsideHours = errors.New("requested time is outside delivery hours")
	// ErrNoSchedule возвращается при отсутствии расписания для города.
	ErrNoSchedule = errors.New("no schedule for the requested city")
	// ErrBadClock возвращается при времени вне формата "HH:MM".
	ErrBadClock = errors.New("malformed clock value")
)

// ParseClock разбирает время вида "15:04" в минуты от полуночи.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate проверяет запрошенные дату и время против расписания города
// и разовых блокировок. Правила применяются по порядку, первая ошибка решает.
// Функция без побочных эффектов, безопасна для конкурентных вызовов.
func Validate(schedule *model.Schedule, blocked []model.BlockedSlot, date time.Time, clock int, now time.Time) error {
	if beforeDate(date, now) {
		return ErrTooSoon
	}
	if sameDate(date, now) {
		nowClock := now.Hour()*60 + now.Minute()
		lead := int(LeadTime.Minutes())
		if clock < nowClock+lead {
			return ErrTooSoon
		}
	}

	for _, b := range blocked {
		if !sameDate(b.Date, date) {
			continue
		}
		if b.FullDay {
			return ErrCityClosed
		}
	}

	for _, b := range blocked {
		if !sameDate(b.Date, date) || b.FullDay {
			continue
		}
		if (model.Interval{Start: b.Start, End: b.End}).Contains(clock) {
			return ErrSlotBlocked
		}
	}

	if schedule == nil || len(schedule.Days) == 0 {
		return ErrNoSchedule
	}

	for _, iv := range schedule.Days[date.Weekday()] {
		if iv.Contains(clock) {
			return nil
		}
	}

	return ErrOutsideHours
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func beforeDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
