package dto

import "time"

type EmailReceivedEvent struct {
	AccountID  string    `json:"accountId"`
	EmailID    string    `json:"emailId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type SyncCompletedEvent struct {
	AccountID   string    `json:"accountId"`
	NewEmails   int       `json:"newEmails"`
	CompletedAt time.Time `json:"completedAt"`
}
