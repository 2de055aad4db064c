package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Canvas is a shared drawing. Elements holds the opaque element records as a JSON array.
type Canvas struct {
	BaseModel

	OwnerID  string         `gorm:"size:36;not null;index" json:"owner_id"`
	Owner    *User          `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"-"`
	Name     string         `gorm:"size:255;not null" json:"name"`
	Elements datatypes.JSON `json:"elements"`

	Shares []CanvasShare `gorm:"foreignKey:CanvasID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeSave normalises an empty element list so readers never see a NULL column.
func (c *Canvas) BeforeSave(tx *gorm.DB) error {
	if len(c.Elements) == 0 || string(c.Elements) == "null" {
		c.Elements = datatypes.JSON("[]")
	}
	return nil
}

// DecodeElements splits the stored JSON array into individual element records.
func (c *Canvas) DecodeElements() ([]json.RawMessage, error) {
	if len(c.Elements) == 0 {
		return []json.RawMessage{}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(c.Elements, &elements); err != nil {
		return nil, fmt.Errorf("decode canvas %s elements: %w", c.ID, err)
	}
	if elements == nil {
		elements = []json.RawMessage{}
	}
	return elements, nil
}

// EncodeElements serialises element records into the JSON column.
func EncodeElements(elements []json.RawMessage) (datatypes.JSON, error) {
	if elements == nil {
		elements = []json.RawMessage{}
	}
	raw, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("encode canvas elements: %w", err)
	}
	return datatypes.JSON(raw), nil
}
