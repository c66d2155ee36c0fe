package models

import "time"

// RefreshEvent is emitted after each scheduled refresh of a watched address
type RefreshEvent struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	NewRecords int       `json:"new_records"`
	Pending    int       `json:"pending"`
	Stale      bool      `json:"stale"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
