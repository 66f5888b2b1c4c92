package incident

import "strings"

// delayMinutes is the fixed travel delay attributed to each incident type
var delayMinutes = map[string]int{
	"pothole":     3,
	"accident":    10,
	"breakdown":   5,
	"oilspill":    7,
	"roadblock":   15,
	"speedcamera": 0,
	"police":      5,
}

// DelayFor returns the delay in minutes for an incident type. Unknown types get 0.
func DelayFor(incidentType string) int {
	return delayMinutes[NormalizeType(incidentType)]
}

// NormalizeType lower-cases and trims an incident type so that
// "Pothole " and "pothole" land in the same dedup bucket.
func NormalizeType(incidentType string) string {
	return strings.ToLower(strings.TrimSpace(incidentType))
}
