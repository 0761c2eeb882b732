package model

import "time"

// RawRecord is a contact-shaped record as delivered by an external platform,
// before any canonicalization.
type RawRecord struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Title   string `json:"title,omitempty"`

	SourcePlatform string `json:"source_platform"`
	// SourceContactID is the platform's own id for this person.
	SourceContactID string `json:"source_contact_id,omitempty"`

	Note       string    `json:"note,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// NormalizedRecord is a RawRecord after canonicalization. All comparisons
// downstream use the normalized fields; display fields keep their original
// casing and formatting.
type NormalizedRecord struct {
	// Name keeps display casing; NameKey is the case-insensitive
	// whitespace-collapsed comparison key.
	Name    string `json:"name,omitempty"`
	NameKey string `json:"name_key,omitempty"`

	// Email is trimmed and lowercased; "" means absent.
	Email string `json:"email,omitempty"`

	// Phone holds comparison digits (10-digit US canonical form when
	// applicable); PhoneRaw keeps the original formatting.
	Phone    string `json:"phone,omitempty"`
	PhoneRaw string `json:"phone_raw,omitempty"`

	// Company is the explicit value when supplied, otherwise inferred from
	// the email's business domain. CompanyInferred marks the latter.
	Company         string `json:"company,omitempty"`
	CompanyInferred bool   `json:"company_inferred,omitempty"`

	Title string `json:"title,omitempty"`

	SourcePlatform  string    `json:"source_platform"`
	SourceContactID string    `json:"source_contact_id,omitempty"`
	Note            string    `json:"note,omitempty"`
	OwnerID         string    `json:"owner_id,omitempty"`
	ObservedAt      time.Time `json:"observed_at,omitempty"`
}

// IdentityKey returns the strongest available identity signal for this
// record, used to serialize concurrent ingests of the same person.
func (r *NormalizedRecord) IdentityKey() string {
	switch {
	case r.Email != "":
		return "email:" + r.Email
	case r.Phone != "":
		return "phone:" + r.Phone
	default:
		return "name:" + r.NameKey
	}
}
