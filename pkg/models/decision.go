package models

import "time"

// Decision is the operator's answer to an approval request.
type Decision string

const (
	DecisionApprove Decision = "1"
	DecisionDeny    Decision = "2"
)

// DecisionRecord is the stored result of one inbound approval reply.
type DecisionRecord struct {
	Token      string    `json:"token"`
	Decision   Decision  `json:"decision"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"ts"`
}

// Approved returns true if the record approves the purchase.
func (d DecisionRecord) Approved() bool {
	return d.Decision == DecisionApprove
}
