package output

import "strings"

// BuildEventsSubject returns the lifecycle events subject.
// Format: {prefix}.events.{instance}
func BuildEventsSubject(subjectPrefix, instanceID string) string {
	return subjectPrefix + ".events." + SanitizeToken(instanceID)
}

// BuildHealthSubject returns the heartbeat subject.
// Format: {prefix}.health.{instance}
func BuildHealthSubject(subjectPrefix, instanceID string) string {
	return subjectPrefix + ".health." + SanitizeToken(instanceID)
}

// BuildAPIPrefix returns the prefix of the request-reply subjects.
// Format: {prefix}.api.{instance}
func BuildAPIPrefix(subjectPrefix, instanceID string) string {
	return subjectPrefix + ".api." + SanitizeToken(instanceID)
}

// BuildDataSubject returns the subject captured bytes of a device are
// published on.
// Format: {prefix}.data.{instance}.{device}
func BuildDataSubject(subjectPrefix, instanceID, device string) string {
	return subjectPrefix + ".data." + SanitizeToken(instanceID) + "." + SanitizeToken(device)
}

// SanitizeToken turns a device path into a single subject token (and file
// name): /dev/ttyUSB0 becomes dev_ttyUSB0.
func SanitizeToken(s string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', ' ', '*', '>', ':':
			return '_'
		}
		return r
	}, s)
	token = strings.Trim(token, "_")
	if token == "" {
		return "_"
	}
	return token
}
