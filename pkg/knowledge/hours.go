package knowledge

import "time"

// window is a same-day open interval in minutes from midnight.
type window struct {
	open  int
	close int
}

// BusinessHours maps weekdays to staffed customer-service windows. A weekday
// with no window is closed all day.
type BusinessHours struct {
	windows map[time.Weekday]window
}

// DistrictHours returns the district's customer service schedule:
// Monday through Friday 8 AM to 6 PM, Saturday 9 AM to 3 PM, Sunday closed.
func DistrictHours() *BusinessHours {
	windows := map[time.Weekday]window{
		time.Saturday: {open: 9 * 60, close: 15 * 60},
	}
	for d := time.Monday; d <= time.Friday; d++ {
		windows[d] = window{open: 8 * 60, close: 18 * 60}
	}
	return &BusinessHours{windows: windows}
}

// Open reports whether customer service is staffed at t.
func (h *BusinessHours) Open(t time.Time) bool {
	w, ok := h.windows[t.Weekday()]
	if !ok {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= w.open && minutes < w.close
}
