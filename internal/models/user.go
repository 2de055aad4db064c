package models

// User is the local record of an identity known to the whiteboard. Credentials live with
// the external identity service; only the id and email are mirrored here.
type User struct {
	BaseModel

	Email string `gorm:"uniqueIndex;size:320;not null" json:"email"`
	Name  string `gorm:"size:255" json:"name"`
}
