package engine

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// TouchedUsers lists, in first-seen order, the users whose balance entries the events
// refer to.
func TouchedUsers(events []Event) []string {
	return distinct(events, func(e Event) string { return e.User })
}

// TouchedRooms lists, in first-seen order, the room keys the events refer to.
func TouchedRooms(events []Event) []string {
	return distinct(events, func(e Event) string { return e.RoomKey })
}

// Transfers collects the outbound token instructions carried by events.
func Transfers(events []Event) []Transfer {
	var out []Transfer
	for _, e := range events {
		if e.Transfer != nil {
			out = append(out, *e.Transfer)
		}
	}
	return out
}

func distinct(events []Event, field func(Event) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range events {
		v := field(e)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
