package gateway

import (
	"github.com/cuongbtq/imagepipe/internal/api/dto"
	"github.com/cuongbtq/imagepipe/internal/domain"
)

// Message types on the wire
const (
	TypeConnection  = "connection"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeGetImages   = "get_images"
	TypeImagesList  = "images_list"
	TypeImageUpdate = "image_update"
)

const (
	greetingMessage = "Hello!"
	pongMessage     = "Pong from server"
)

type inboundMessage struct {
	Type string `json:"type"`
}

type textMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type imagesListMessage struct {
	Type   string             `json:"type"`
	Images []dto.ItemSnapshot `json:"images"`
}

type imageUpdateMessage struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ImageID        *int64 `json:"image_id,omitempty"`
	ProcessedImage string `json:"processed_image,omitempty"`
}

func newImageUpdate(evt domain.Event) imageUpdateMessage {
	return imageUpdateMessage{
		Type:           TypeImageUpdate,
		Message:        evt.Message,
		ImageID:        evt.ImageID,
		ProcessedImage: evt.ProcessedImage,
	}
}
