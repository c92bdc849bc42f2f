package domain

// InboundEvent is one text message delivered by the messaging platform.
type InboundEvent struct {
	ReplyToken string
	UserID     string
	Text       string
	EventID    string
	Redelivery bool
}
