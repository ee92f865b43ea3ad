package engine

import "time"

func DefaultRules() Rules {
	return Rules{
		MinParticipants: 5,
		MaxParticipants: 10,
		MaxNameLength:   24,
		TaskTotal:       5,
		GracePeriod:     2 * time.Second,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	return CountEvents(events, eventType) > 0
}

func CountEvents(events []Event, eventType EventType) int {
	n := 0
	for _, event := range events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}
