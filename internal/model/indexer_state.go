package model

import "time"

// IndexerState is the singleton progress row for one deployment. LastBlock is
// the highest fully committed block, inclusive, and never moves backwards.
type IndexerState struct {
	ID            string     `json:"id"`
	LastBlock     uint64     `json:"last_block"`
	LastBlockTime *time.Time `json:"last_block_time,omitempty"`
	IsRunning     bool       `json:"is_running"`
	LastError     *string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
