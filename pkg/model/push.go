package model

// PushNotification is the display part of a push payload.
type PushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// PushPayload is what the push provider delivers to a token.
type PushPayload struct {
	Notification *PushNotification `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}
