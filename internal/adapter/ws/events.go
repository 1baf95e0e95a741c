package ws

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Server-to-client event names.
const (
	EventConnected  = "connected"
	EventRoomJoined = "room-joined"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventPong       = "pong"
	EventError      = "error"
)

// Client-to-server event names and prefixes.
const (
	clientPing        = "ping"
	clientJoinPrefix  = "join-"
	clientLeavePrefix = "leave-"
)

const maxResourceIDLen = 128

var resourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedEvent greets a freshly authenticated connection.
type ConnectedEvent struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
}

// RoomJoinedEvent acknowledges a join request.
type RoomJoinedEvent struct {
	RoomName   string `json:"roomName"`
	Resource   string `json:"resource"`
	ResourceID string `json:"resourceId"`
}

// PresenceEvent tells room members that someone arrived or left.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// ErrorEvent reports a rejected client frame.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Room names. Every room is prefixed with its tenant.

func tenantRoom(tenantID string) string { return "tenant:" + tenantID }

func userRoom(tenantID, userID string) string {
	return tenantRoom(tenantID) + ":user:" + userID
}

func resourceRoom(tenantID, resource, resourceID string) string {
	return tenantRoom(tenantID) + ":" + resource + ":" + resourceID
}

func livenessKey(tenantID, userID string) string {
	return "ws:connection:" + tenantID + ":" + userID
}

// ownsRoom reports whether room belongs to tenantID.
func ownsRoom(tenantID, room string) bool {
	prefix := tenantRoom(tenantID)
	return room == prefix || strings.HasPrefix(room, prefix+":")
}

func validResource(resource, id string) error {
	if !resourcePattern.MatchString(resource) {
		return fmt.Errorf("invalid resource %q", resource)
	}
	if id == "" || len(id) > maxResourceIDLen || strings.Contains(id, ":") {
		return fmt.Errorf("invalid resource id")
	}
	return nil
}

// resourceIDFrom accepts either a bare JSON string or {"resourceId": "..."}.
func resourceIDFrom(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}
	var obj struct {
		ResourceID string `json:"resourceId"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	if obj.ResourceID != "" {
		return obj.ResourceID
	}
	return obj.ID
}

// stamp renders payload as a JSON object carrying "timestamp" in epoch
// milliseconds. Objects are merged; any other value lands under "value".
func stamp(payload any, now time.Time) (json.RawMessage, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal ws payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			fields = map[string]any{"value": json.RawMessage(raw)}
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	fields["timestamp"] = now.UnixMilli()
	return json.Marshal(fields)
}

func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
