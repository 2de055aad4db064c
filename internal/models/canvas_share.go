package models

import "time"

// CanvasShare grants a user edit access to a canvas they do not own.
type CanvasShare struct {
	CanvasID  string    `gorm:"primaryKey;size:36" json:"canvas_id"`
	UserID    string    `gorm:"primaryKey;size:36;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	GrantedBy string    `gorm:"size:36;not null" json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}
