package process

import "time"

// businessZone is the fixed business timezone used for day arithmetic.
// The marketplace counts calendar days in UTC+3, fixed offset, not
// DST-aware.
var businessZone = time.FixedZone("UTC+3", 3*60*60)

// TimeslotWindow is a second-precision UTC window in ISO-8601.
type TimeslotWindow struct {
	FromISO string
	ToISO   string
}

// ComputeTimeslotWindow adds fromDays/toDays calendar days to now in the
// business timezone and returns the window as second-precision ISO-8601
// UTC timestamps without milliseconds.
func ComputeTimeslotWindow(fromDays, toDays int, now time.Time) TimeslotWindow {
	return TimeslotWindow{
		FromISO: addBusinessDays(now, fromDays),
		ToISO:   addBusinessDays(now, toDays),
	}
}

func addBusinessDays(now time.Time, days int) string {
	local := now.In(businessZone)
	shifted := local.AddDate(0, 0, days)
	return shifted.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
