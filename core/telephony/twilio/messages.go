package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type messageEvent string

const (
	messageConnected messageEvent = "connected"
	messageStart     messageEvent = "start"
	messageMedia     messageEvent = "media"
	messageMark      messageEvent = "mark"
	messageStop      messageEvent = "stop"
	messageDTMF      messageEvent = "dtmf"
	messageClear     messageEvent = "clear"
)

const trackInbound = "inbound"

// inboundMessage covers every message Twilio sends on a media stream. Only
// the section matching Event is populated.
type inboundMessage struct {
	Event     messageEvent `json:"event"`
	StreamSID string       `json:"streamSid"`

	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		AccountSID       string            `json:"accountSid"`
		Tracks           []string          `json:"tracks"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
			Channels   int    `json:"channels"`
		} `json:"mediaFormat"`
	} `json:"start,omitempty"`

	Media *struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`

	Mark *markPayload `json:"mark,omitempty"`
}

type markPayload struct {
	Name string `json:"name"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundMessage struct {
	Event     messageEvent  `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

func parseInboundMessage(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return inboundMessage{}, fmt.Errorf("failed to unmarshal media stream message: %w", err)
	}
	if msg.Event == messageStart && msg.Start == nil {
		return inboundMessage{}, fmt.Errorf("start message without start section")
	}
	return msg, nil
}

// inboundAudio decodes the payload of an inbound-track media message. It
// returns nil for outbound-track echoes.
func (m inboundMessage) inboundAudio() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("media message without media section")
	}
	if m.Media.Track != "" && m.Media.Track != trackInbound {
		return nil, nil
	}
	audio, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid media payload: %w", err)
	}
	return audio, nil
}

func newMediaMessage(streamSID string, audio []byte) outboundMessage {
	return outboundMessage{
		Event:     messageMedia,
		StreamSID: streamSID,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

func newClearMessage(streamSID string) outboundMessage {
	return outboundMessage{Event: messageClear, StreamSID: streamSID}
}

func newMarkMessage(streamSID, name string) outboundMessage {
	return outboundMessage{Event: messageMark, StreamSID: streamSID, Mark: &markPayload{Name: name}}
}
