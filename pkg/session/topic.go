package session

import "strings"

// operationFromTopic strips prefix (as produced by bus.TopicPrefix) from
// topic and returns the remaining operation name, e.g.
// "bridge-0/evse_board_support/pwm_on" with prefix
// "bridge-0/evse_board_support/" yields ("pwm_on", true).
func operationFromTopic(topic, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
