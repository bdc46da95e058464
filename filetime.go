package sevenzip

import "time"

const (
	ticksPerSecond = 10000000
	secondsPerDay  = 86400

	// Seconds between 1601-01-01 and 1970-01-01.
	epochDelta = 11644473600

	daysPer400Years = 365*400 + 97
	daysPer4Years   = 365*4 + 1
)

// Unix returns ft as seconds since the Unix epoch, truncating sub-second
// ticks.
func (ft Filetime) Unix() int64 {
	return int64(uint64(ft)/ticksPerSecond) - epochDelta
}

// Time converts ft to a UTC time with second precision. The calendar date
// is resolved from the day count since 1601 with integer arithmetic over a
// March-based year.
func (ft Filetime) Time() time.Time {
	secs := int64(uint64(ft) / ticksPerSecond)
	days := secs / secondsPerDay
	sod := secs % secondsPerDay

	hour := int(sod / 3600)
	minute := int(sod % 3600 / 60)
	second := int(sod % 60)

	cleaps := (3*((4*days+1227)/daysPer400Years) + 3) / 4
	days += 28188 + cleaps
	years := (20*days - 2442) / (5 * daysPer4Years)
	yearday := days - (years*daysPer4Years)/4
	months := (64 * yearday) / 1959

	var month, year int64
	if months < 14 {
		month = months - 1
		year = years + 1524
	} else {
		month = months - 13
		year = years + 1525
	}
	day := yearday - (1959*months)/64

	return time.Date(int(year), time.Month(month), int(day), hour, minute, second, 0, time.UTC)
}

// FiletimeFromTime converts t to a FILETIME.
func FiletimeFromTime(t time.Time) Filetime {
	return Filetime(uint64(t.Unix()+epochDelta)*ticksPerSecond + uint64(t.Nanosecond()/100))
}
