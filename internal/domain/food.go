package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Food is a nutrition catalog entry. Values are per gram, or per millilitre for beverages.
type Food struct {
	ID             string       `gorm:"type:text;primaryKey" json:"id"`
	Name           string       `gorm:"type:text;not null;uniqueIndex:idx_foods_name" json:"name"`
	Aliases        StringArray  `gorm:"type:text" json:"aliases"`
	Category       MealCategory `gorm:"type:text;index:idx_foods_category" json:"category"`
	KcalPerGram    float64      `json:"kcal_per_gram"`
	ProteinPerGram float64      `json:"protein_per_gram"`
	CarbPerGram    float64      `json:"carb_per_gram"`
	FatPerGram     float64      `json:"fat_per_gram"`
	FiberPerGram   float64      `json:"fiber_per_gram"`
	Source         string       `gorm:"type:text" json:"source,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Food.
func (Food) TableName() string {
	return "foods"
}

// NormalizeFoodName lowercases and collapses whitespace so catalog keys and
// recognized names compare equal.
func NormalizeFoodName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
