package realtime

import "encoding/json"

// Client-originated events.
const (
	EventRoomJoin      = "room:join"
	EventRoomLeave     = "room:leave"
	EventDirectMessage = "message:direct"
	EventRoomMessage   = "message:room"
)

// Server-originated events. Direct and room messages reuse the names above.
const (
	EventReady       = "ready"
	EventRoomJoined  = "room:joined"
	EventRoomLeft    = "room:left"
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
	EventError       = "error"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type directPayload struct {
	ToUserID string `json:"toUserId"`
	Content  string `json:"content"`
}

type roomMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// Ready acknowledges a successful handshake.
type Ready struct {
	UserID       string `json:"userId,omitempty"`
	ConnectionID string `json:"connectionId"`
	Anonymous    bool   `json:"anonymous,omitempty"`
}

type Presence struct {
	UserID string `json:"userId"`
}

type RoomAck struct {
	RoomID string `json:"roomId"`
}

// Message is delivered for both direct and room messages; RoomID is empty
// for direct messages. From and Timestamp are always set by the server.
type Message struct {
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	RoomID    string `json:"roomId,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func encode(event string, data any) []byte {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		// every payload type above marshals; reaching here is a programming error
		panic(err)
	}
	return b
}
