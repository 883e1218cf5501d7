package repository

import "time"

type DeliveryOutcome string

const (
	DeliveryOutcomeDelivered DeliveryOutcome = "delivered"
	DeliveryOutcomeFailed    DeliveryOutcome = "failed"
)

type Delivery struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channelId"`
	BatchID   string          `json:"batchId"`
	SessionID string          `json:"sessionId"`
	Topic     string          `json:"topic"`
	Subject   string          `json:"subject"`
	Outcome   DeliveryOutcome `json:"outcome"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
