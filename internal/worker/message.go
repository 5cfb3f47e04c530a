package worker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ContentType of job trigger messages
const ContentType = "application/json"

// ErrInvalidMessage is returned for job messages that cannot be processed
var ErrInvalidMessage = errors.New("invalid job message")

// JobMessage asks the runner to process one image
type JobMessage struct {
	ImageID int64 `json:"image_id"`
}

// Encode renders the message body
func (m JobMessage) Encode() ([]byte, error) {
	if m.ImageID <= 0 {
		return nil, fmt.Errorf("%w: image_id must be positive", ErrInvalidMessage)
	}
	return json.Marshal(m)
}

// DecodeJobMessage parses a message body
func DecodeJobMessage(body []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.ImageID <= 0 {
		return JobMessage{}, fmt.Errorf("%w: image_id must be positive", ErrInvalidMessage)
	}
	return msg, nil
}
