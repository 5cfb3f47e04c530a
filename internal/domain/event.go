package domain

// Event is a transient item update published on the notification bus.
// ImageID and ProcessedImage are only set on completion.
type Event struct {
	Message        string
	ImageID        *int64
	ProcessedImage string // public URL
}

// ProcessingEvent announces that a job has started
func ProcessingEvent(message string) Event {
	return Event{Message: message}
}

// CompletedEvent announces a finished job
func CompletedEvent(message string, imageID int64, processedURL string) Event {
	return Event{
		Message:        message,
		ImageID:        &imageID,
		ProcessedImage: processedURL,
	}
}
