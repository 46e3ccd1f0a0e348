package bus

// InboundMessage is one message event received from the transport session,
// queued for routing. The conversation address is carried raw; classification
// and identity extraction happen in the router.
type InboundMessage struct {
	// MessageID is the transport-assigned message identifier.
	MessageID string `json:"message_id,omitempty"`
	// Address is the raw conversation address the message arrived on.
	Address string `json:"address"`
	// Text is the extracted message text (plain or extended form).
	Text string `json:"text"`
	// FromSelf marks messages echoed back for the bridge's own account.
	FromSelf bool `json:"from_self"`
	// PushName is the sender's display name, informational only.
	PushName string `json:"push_name,omitempty"`
}

// OutboundMessage is one reply queued for delivery through the transport.
type OutboundMessage struct {
	Address string `json:"address"`
	Text    string `json:"text"`
}
