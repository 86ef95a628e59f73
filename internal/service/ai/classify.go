package ai

import (
	"fmt"
	"strings"
)

// Classify maps a terminal provider failure onto the user-facing reply the
// conversation thread receives instead of a blank error. Matching is literal
// lowercased substring search, first bucket wins; the buckets are checked in
// a fixed priority order.
func Classify(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "credit", "balance", "billing", "payment"):
		return "My `bundle install` just failed — turns out my dependencies need funding. The humans who keep my neurons firing forgot to top up the API credits. Poke them before I have to downgrade to Sinatra."
	case containsAny(msg, "rate", "limit", "too many"):
		return "Whoa, slow down — you're hitting me harder than a zero-downtime deployment during Black Friday. I need a sec to catch up. `sleep(5)` and try again."
	case containsAny(msg, "overloaded", "capacity"):
		return "My servers are under heavier load than a Rails monolith serving Twitter circa 2008. Give me a moment to autoscale my thoughts."
	default:
		return fmt.Sprintf("Something went sideways in my middleware stack and I couldn't process that. Error: `%s`", err.Error())
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
