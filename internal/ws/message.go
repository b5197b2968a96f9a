package ws

import (
	"encoding/json"
	"fmt"

	"github.com/remote-mirror/backend/internal/model"
)

// MessageType is the "type" discriminator of every application message.
type MessageType string

const (
	// Client -> Server
	MessageTypeAuth         MessageType = "auth"
	MessageTypeScreenUpdate MessageType = "screenUpdate"
	MessageTypeInteraction  MessageType = "interaction"
	MessageTypePing         MessageType = "ping"

	// Both directions
	MessageTypeError MessageType = "error"
	MessageTypePong  MessageType = "pong"
)

// InteractionKind discriminates interaction messages.
type InteractionKind string

const (
	InteractionTap   InteractionKind = "tap"
	InteractionSwipe InteractionKind = "swipe"
	InteractionType  InteractionKind = "type"
)

// FrameMetadata describes the captured screen a frame was taken from.
type FrameMetadata struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Density int `json:"density"`
}

// Message is the union of all application messages. Only the fields of the
// message's type are set.
type Message struct {
	Type MessageType `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// screenUpdate
	Metadata  *FrameMetadata `json:"metadata,omitempty"`
	ImageData string         `json:"imageData,omitempty"`

	// interaction
	Kind   InteractionKind `json:"kind,omitempty"`
	X      *float64        `json:"x,omitempty"`
	Y      *float64        `json:"y,omitempty"`
	StartX *float64        `json:"startX,omitempty"`
	StartY *float64        `json:"startY,omitempty"`
	EndX   *float64        `json:"endX,omitempty"`
	EndY   *float64        `json:"endY,omitempty"`
	Text   string          `json:"text,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ScreenUpdate builds a frame message.
func ScreenUpdate(meta FrameMetadata, imageData string) Message {
	return Message{Type: MessageTypeScreenUpdate, Metadata: &meta, ImageData: imageData}
}

// Tap builds a tap interaction at normalized coordinates.
func Tap(x, y float64) Message {
	return Message{Type: MessageTypeInteraction, Kind: InteractionTap, X: &x, Y: &y}
}

// Swipe builds a swipe interaction between two normalized points.
func Swipe(startX, startY, endX, endY float64) Message {
	return Message{
		Type:   MessageTypeInteraction,
		Kind:   InteractionSwipe,
		StartX: &startX,
		StartY: &startY,
		EndX:   &endX,
		EndY:   &endY,
	}
}

// TypeText builds a text entry interaction.
func TypeText(text string) Message {
	return Message{Type: MessageTypeInteraction, Kind: InteractionType, Text: text}
}

// ParseMessage decodes and validates one application message.
// Every failure wraps model.ErrMalformedMessage.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the fields required by the message type.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeAuth:
		if m.Token == "" {
			return malformed("auth message without token")
		}
	case MessageTypeScreenUpdate:
		return m.validateFrame()
	case MessageTypeInteraction:
		return m.validateInteraction()
	case MessageTypeError, MessageTypePing, MessageTypePong:
	case "":
		return malformed("missing type")
	default:
		return malformed(fmt.Sprintf("unknown type %q", m.Type))
	}
	return nil
}

func (m *Message) validateFrame() error {
	if m.Metadata == nil {
		return malformed("screenUpdate without metadata")
	}
	if m.Metadata.Width <= 0 || m.Metadata.Height <= 0 || m.Metadata.Density <= 0 {
		return malformed("screenUpdate metadata must be positive")
	}
	if m.ImageData == "" {
		return malformed("screenUpdate without imageData")
	}
	return nil
}

func (m *Message) validateInteraction() error {
	switch m.Kind {
	case InteractionTap:
		return normalized(map[string]*float64{"x": m.X, "y": m.Y})
	case InteractionSwipe:
		return normalized(map[string]*float64{
			"startX": m.StartX, "startY": m.StartY,
			"endX": m.EndX, "endY": m.EndY,
		})
	case InteractionType:
		if m.Text == "" {
			return malformed("type interaction without text")
		}
		return nil
	case "":
		return malformed("interaction without kind")
	}
	return malformed(fmt.Sprintf("unknown interaction kind %q", m.Kind))
}

func normalized(coords map[string]*float64) error {
	for name, v := range coords {
		if v == nil {
			return malformed(fmt.Sprintf("missing coordinate %s", name))
		}
		if *v < 0 || *v > 1 {
			return malformed(fmt.Sprintf("coordinate %s out of range: %v", name, *v))
		}
	}
	return nil
}

func malformed(detail string) error {
	return fmt.Errorf("%w: %s", model.ErrMalformedMessage, detail)
}

func mustMarshal(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}

var pongMessage = mustMarshal(Message{Type: MessageTypePong})
