package models

import "time"

// gatewayZone is the timezone the gateway reports chat timestamps in.
var gatewayZone = time.FixedZone("UTC+8", 8*60*60)

// ChatEvent is one decoded barrage message, immutable once derived.
// Payload holds the full parsed STT mapping so nothing the gateway sent
// is lost.
type ChatEvent struct {
	UserID   string         `json:"userid"`
	Nickname string         `json:"nickname"`
	Time     *time.Time     `json:"time,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// DesiredRoom is one row of the externally managed control table.
type DesiredRoom struct {
	RoomID string `json:"room_id"`
	Paused bool   `json:"is_paused"`
}

// EventFromPayload derives a ChatEvent from a parsed STT mapping.
// The "cst" timestamp is epoch seconds when it has 10 digits and epoch
// milliseconds otherwise; a missing or empty cst leaves Time nil.
// Missing uid/nn fields leave empty strings; the event is still stored.
func EventFromPayload(payload map[string]any) ChatEvent {
	ev := ChatEvent{
		UserID:   stringField(payload, "uid"),
		Nickname: stringField(payload, "nn"),
		Payload:  payload,
	}
	if cst := stringField(payload, "cst"); cst != "" {
		if ts, ok := parseEpoch(cst); ok {
			t := ts.In(gatewayZone)
			ev.Time = &t
		}
	}
	return ev
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func parseEpoch(cst string) (time.Time, bool) {
	var n int64
	for _, r := range cst {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
		n = n*10 + int64(r-'0')
	}
	if len(cst) == 10 {
		return time.Unix(n, 0), true
	}
	return time.UnixMilli(n), true
}
