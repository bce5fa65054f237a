package model

import "time"

// QueueState holds the display hints "next number if no reuse occurs".
// The numbering policy never reads it; it only feeds the desk screen.
type QueueState struct {
    NextPreferentialNumber int       `json:"next_preferential_number"` // queue_state.next_preferential_number
    NextNormalNumber       int       `json:"next_normal_number"`       // queue_state.next_normal_number
    UpdatedAt              time.Time `json:"updated_at"`               // queue_state.updated_at
}
