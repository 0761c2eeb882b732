// Package normalize canonicalizes raw contact records before any comparison.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/contact-engine/internal/model"
)

// ValidationError marks a structurally unparseable raw record. The offending
// field is surfaced to the caller.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("normalize: invalid record: %s: %s", e.Field, e.Msg)
}

// freeMailDomains lists consumer email providers from which no company is
// ever inferred.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"yahoo.co.uk":    true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	nonDigitRe   = regexp.MustCompile(`\D`)
	titleCaser   = cases.Title(language.English)
)

// Record canonicalizes a raw record. It is a pure function and fails only
// when every identity field (name, email, phone) is absent.
func Record(raw model.RawRecord) (model.NormalizedRecord, error) {
	rec := model.NormalizedRecord{
		Title:           strings.TrimSpace(raw.Title),
		SourcePlatform:  strings.TrimSpace(raw.SourcePlatform),
		SourceContactID: strings.TrimSpace(raw.SourceContactID),
		Note:            strings.TrimSpace(raw.Note),
		OwnerID:         strings.TrimSpace(raw.OwnerID),
		ObservedAt:      raw.ObservedAt,
	}

	rec.Email = Email(raw.Email)
	rec.Phone, rec.PhoneRaw = Phone(raw.Phone)
	rec.Name = Name(raw.Name)
	rec.NameKey = NameKey(rec.Name)

	if rec.Name == "" && rec.Email == "" && rec.Phone == "" {
		return model.NormalizedRecord{}, &ValidationError{
			Field: "name/email/phone",
			Msg:   "all identity fields are empty",
		}
	}

	rec.Company = strings.TrimSpace(raw.Company)
	if rec.Company == "" {
		if inferred := CompanyFromEmail(rec.Email); inferred != "" {
			rec.Company = inferred
			rec.CompanyInferred = true
		}
	}

	return rec, nil
}

// Email trims and lowercases an email address. Absent stays absent; an empty
// string is never distinguished from null downstream.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Phone strips all non-digit characters and canonicalizes US numbers:
// 11 digits with a leading country code 1 drop the leading digit. The
// original formatting is returned alongside the digits, since formatting is
// cosmetic and digits are the comparison key.
func Phone(s string) (digits, raw string) {
	raw = strings.TrimSpace(s)
	digits = nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits, raw
}

// Name trims and collapses internal whitespace, preserving display casing.
func Name(s string) string {
	return multiSpaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NameKey derives the case-insensitive comparison key for a display name.
func NameKey(name string) string {
	return strings.ToLower(name)
}

// CompanyFromEmail infers a company name from a business email domain.
// Free-mail domains yield nothing. For business domains the second-to-last
// DNS label is taken, with -/_ replaced by spaces and each word title-cased.
func CompanyFromEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := email[at+1:]
	if freeMailDomains[domain] {
		return ""
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}
	label := labels[len(labels)-2]
	label = strings.NewReplacer("-", " ", "_", " ").Replace(label)
	label = multiSpaceRe.ReplaceAllString(strings.TrimSpace(label), " ")
	if label == "" {
		return ""
	}
	return titleCaser.String(label)
}
