package lirashield

import "time"

const istanbulTimeZoneName = "Europe/Istanbul"

var istanbulLocation = loadIstanbulLocation()

func loadIstanbulLocation() *time.Location {
	location, err := time.LoadLocation(istanbulTimeZoneName)
	if err != nil {
		return time.FixedZone(istanbulTimeZoneName, 3*60*60)
	}
	return location
}

// NowInIstanbul returns current time in Europe/Istanbul.
func NowInIstanbul() time.Time {
	return time.Now().In(istanbulLocation)
}

// today returns the calendar day "now" falls on in Istanbul, using the core clock.
func (c *Core) today() Date {
	return DateOf(c.now().In(istanbulLocation))
}
