package domain

import (
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
)

// ErrInvalidUserID indicates a malformed user id.
var ErrInvalidUserID = errors.New("invalid user id")

var validate = validator.New()

// ValidateUserID enforces the id rule shared by sessions and stored records:
// printable ASCII, at most 128 characters.
func ValidateUserID(id string) error {
	if err := validate.Var(id, "required,printascii,max=128"); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidUserID, id, err)
	}
	return nil
}

// UserRecord is the persisted per-user progression and balance record.
// JSON names follow the storage layout shared with the web front-end.
type UserRecord struct {
	ID           string             `json:"id" mapstructure:"id"`
	Level        string             `json:"level" mapstructure:"level"`
	Experience   int64              `json:"exp" mapstructure:"exp"`
	Assets       map[string]float64 `json:"assets" mapstructure:"assets"`
	TotalAssets  float64            `json:"totalAssets" mapstructure:"totalAssets"`
	Cash         float64            `json:"cash" mapstructure:"cash"`
	LastModified time.Time          `json:"lastModified" mapstructure:"-"`
	Checksum     string             `json:"checksum" mapstructure:"-"`
}

// Clone returns a deep copy of the record.
func (r UserRecord) Clone() UserRecord {
	out := r
	if r.Assets != nil {
		out.Assets = make(map[string]float64, len(r.Assets))
		for k, v := range r.Assets {
			out.Assets[k] = v
		}
	}
	return out
}

// Fields exposes the record as a loosely typed map, the shape accepted by schema validation.
func (r UserRecord) Fields() map[string]any {
	assets := make(map[string]any, len(r.Assets))
	for k, v := range r.Assets {
		assets[k] = v
	}

	return map[string]any{
		"id":          r.ID,
		"level":       r.Level,
		"exp":         r.Experience,
		"assets":      assets,
		"totalAssets": r.TotalAssets,
		"cash":        r.Cash,
	}
}
