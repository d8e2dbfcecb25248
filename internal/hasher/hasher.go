package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultCountry is used when a contact has no country.
const DefaultCountry = "us"

// Schema is the column order of every prepared row.
var Schema = []string{"EMAIL", "PHONE", "FN", "LN", "CT", "ST", "ZIP", "COUNTRY", "LOOKALIKE_VALUE"}

// Identity holds the personal fields of a contact before hashing.
type Identity struct {
	Email      string
	Phone      string
	FirstName  string
	LastName   string
	City       string
	State      string
	PostalCode string
	Country    string
}

func sha(value string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(sum[:])
}

// Field hashes a free-text field. Blank input yields "".
func Field(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return sha(value)
}

// Email hashes an email address.
func Email(email string) string {
	return Field(email)
}

// Phone normalizes to E.164 (US default for 10-digit numbers) and hashes.
func Phone(phone string) string {
	if strings.TrimSpace(phone) == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return sha("+" + digits)
}

// Country lower-cases the code, falling back to DefaultCountry. Not hashed.
func Country(country string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "" {
		return DefaultCountry
	}
	return c
}

// PrepareRow builds one upload row in Schema order.
func PrepareRow(id Identity, value int) []any {
	return []any{
		Email(id.Email),
		Phone(id.Phone),
		Field(id.FirstName),
		Field(id.LastName),
		Field(id.City),
		Field(id.State),
		Field(id.PostalCode),
		Country(id.Country),
		value,
	}
}
