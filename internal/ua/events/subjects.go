package events

import (
	"fmt"
	"strings"
)

// Subject naming conventions.
//
// Hierarchy:
//   softphone.calls.<call_id>.<event_suffix>       - Per-call events
//   softphone.accounts.<account>.<event_suffix>    - Account events
//
// Wildcard patterns (see Match):
//   softphone.calls.>                              - All call events
//   softphone.calls.*.disconnected                 - All call ends
//   softphone.calls.<call_id>.*                    - All events for one call

const (
	// SubjectPrefix is the root of all softphone subjects
	SubjectPrefix = "softphone"

	SubjectCalls    = SubjectPrefix + ".calls"
	SubjectAccounts = SubjectPrefix + ".accounts"
)

// CallSubject builds a subject for a specific call event.
// Example: CallSubject("abc-123", "confirmed") => "softphone.calls.abc-123.confirmed"
func CallSubject(callID, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, token(callID), suffix)
}

// AccountSubject builds a subject for account events.
// Example: AccountSubject("sip:alice@example.com", "registered") => "softphone.accounts.alice@example_com.registered"
func AccountSubject(account, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectAccounts, token(strings.TrimPrefix(account, "sip:")), suffix)
}

// token makes s safe to use as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// Subject patterns for common subscriptions
var (
	PatternAll         = SubjectPrefix + ".>"
	PatternAllCalls    = SubjectCalls + ".>"
	PatternCallEnded   = SubjectCalls + ".*.disconnected"
	PatternAllAccounts = SubjectAccounts + ".>"
)

// SubjectForEventType returns the suffix used for a given event type.
func SubjectForEventType(t EventType) string {
	if i := strings.IndexByte(string(t), '.'); i >= 0 {
		return string(t)[i+1:]
	}
	return "unknown"
}

// Match reports whether subject matches pattern. "*" matches one token and
// a trailing ">" matches one or more remaining tokens.
func Match(pattern, subject string) bool {
	if pattern == "" || pattern == ">" {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
