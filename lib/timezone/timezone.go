package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Taipei")
	if err != nil {
		panic(err)
	}
}

// force the clock into the storefront's timezone because the delivery
// scheduling API compares bare M-D-YYYY dates; a server running in another
// timezone would pick a date that is off by one near midnight.
func Now() time.Time {
	return time.Now().In(Location)
}

// Midnight truncates t to the start of its day in the store timezone.
func Midnight(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}
