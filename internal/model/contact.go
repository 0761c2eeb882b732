// Package model defines the golden record types for the contact identity engine.
package model

import (
	"slices"
	"time"
)

// Known source platforms.
const (
	PlatformClose    = "close"
	PlatformCalendly = "calendly"
	PlatformTypeform = "typeform"
)

// Contact is the deduplicated person record, the unit of identity resolution.
// Empty string and absent are treated identically for nullable fields.
type Contact struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name,omitempty" db:"name"`
	Email   string `json:"email,omitempty" db:"email"`
	Phone   string `json:"phone,omitempty" db:"phone"`
	Company string `json:"company,omitempty" db:"company"`
	Title   string `json:"title,omitempty" db:"title"`

	// PhoneRaw preserves the original formatting; Phone holds comparison digits.
	PhoneRaw string `json:"phone_raw,omitempty" db:"phone_raw"`

	// Provenance
	LeadSources      []string  `json:"lead_sources" db:"lead_sources"`
	SourcesCount     int       `json:"sources_count" db:"sources_count"`
	Notes            string    `json:"notes,omitempty" db:"notes"`
	AssignedOwner    string    `json:"assigned_owner,omitempty" db:"assigned_owner"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	LastActivityDate time.Time `json:"last_activity_date,omitempty" db:"last_activity_date"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// HasSource reports whether platform is already in the lead source set.
func (c *Contact) HasSource(platform string) bool {
	return slices.Contains(c.LeadSources, platform)
}

// AddSource adds platform to the lead source set and recomputes SourcesCount.
// SourcesCount is never assigned independently of the set.
func (c *Contact) AddSource(platform string) {
	if platform != "" && !c.HasSource(platform) {
		c.LeadSources = append(c.LeadSources, platform)
		slices.Sort(c.LeadSources)
	}
	c.SourcesCount = len(c.LeadSources)
}
