package store

import (
	"time"

	"gorm.io/datatypes"
)

// AttendanceRecord is one punch at rest. The unique index on
// (external_id, punched_at) is what makes journal replays harmless: a replay
// inserts zero rows instead of duplicating the event. The three Forward*
// columns stay NULL until the remote API has acknowledged the row.
type AttendanceRecord struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ExternalID     string         `gorm:"uniqueIndex:idx_punch_identity,priority:1" json:"zkid"`
	PunchedAt      string         `gorm:"uniqueIndex:idx_punch_identity,priority:2" json:"timestamp"`
	Direction      int            `json:"inorout"`
	EventType      int            `json:"attype"`
	DeviceSerial   string         `gorm:"index" json:"sn"`
	DeviceLabel    string         `json:"device"`
	DeviceRecordID string         `json:"devrec,omitempty"`
	Aux            datatypes.JSON `json:"aux,omitempty"`
	BatchID        string         `json:"batch,omitempty"`
	LoggedAt       string         `json:"logged_at"`
	ForwardStatus  *string        `json:"forward_status,omitempty"`
	ForwardKey     *string        `json:"forward_key,omitempty"`
	ForwardID      *string        `json:"forward_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RosterDevice mirrors one row of the remote device register. Labels resolve
// serials that are not in the local endpoint config.
type RosterDevice struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RemoteID  int64  `json:"remote_id"`
	Serial    string `gorm:"uniqueIndex" json:"serial"`
	Label     string `json:"label"`
	UpdatedAt time.Time
}

// RosterStaff mirrors one row of the remote staff register.
type RosterStaff struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	RemoteID      int64  `json:"remote_id"`
	ExternalID    string `gorm:"uniqueIndex" json:"zkid"`
	Name          string `json:"name"`
	AccessControl string `json:"access_control"`
	UpdatedAt     time.Time
}
