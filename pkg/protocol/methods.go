package protocol

// WebSocket message types accepted from clients.
const (
	MsgStart      = "start"
	MsgSend       = "send"
	MsgCommand    = "command"
	MsgInterrupt  = "interrupt"
	MsgStop       = "stop"
	MsgVoiceStart = "voice_start"
	MsgVoiceEvent = "voice_event"
)

// ClientMessage is the envelope for every client-to-server frame.
// LocalID is the stable tab UUID used for reconnection; ResumeSDKID
// (or the legacy SessionID alias) names an existing log to resume.
type ClientMessage struct {
	Type        string         `json:"type"`
	LocalID     string         `json:"local_id,omitempty"`
	ResumeSDKID string         `json:"resume_sdk_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Fork        bool           `json:"fork,omitempty"`
	Text        string         `json:"text,omitempty"`
	Event       map[string]any `json:"event,omitempty"`
}

// ResumeID returns the session id to resume, honoring the legacy
// session_id field.
func (m ClientMessage) ResumeID() string {
	if m.ResumeSDKID != "" {
		return m.ResumeSDKID
	}
	return m.SessionID
}
