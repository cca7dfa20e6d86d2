package families

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Accessor returns a displayable value of v when one is present.
type Accessor[T any] func(v T) (string, bool)

// Resolve evaluates accessors in priority order and returns the first present value.
func Resolve[T any](v T, fallback string, accessors ...Accessor[T]) string {
	for _, accessor := range accessors {
		if value, ok := accessor(v); ok {
			return value
		}
	}
	return fallback
}

func field(get func(Family) string) Accessor[Family] {
	return func(f Family) (string, bool) {
		value := strings.Join(strings.Fields(get(f)), " ")
		return value, value != ""
	}
}

var displayNameAccessors = []Accessor[Family]{
	field(func(f Family) string { return f.Name }),
	field(func(f Family) string { return f.ResponsibleName }),
}

// DisplayName returns the name shown for a family.
func DisplayName(f Family) string {
	fallback := "Família"
	if short := shortID(f); short != "" {
		fallback += " " + short
	}
	return properCase(Resolve(f, fallback, displayNameAccessors...))
}

// FormatAddress renders an address on one line, skipping missing parts.
func FormatAddress(a Address) string {
	street := joinNonEmpty(", ", a.Street, a.Number, a.Complement)
	cityState := joinNonEmpty("/", a.City, a.State)
	cep := ""
	if d := Digits(a.CEP); len(d) == 8 {
		cep = "CEP " + d[:5] + "-" + d[5:]
	} else if a.CEP != "" {
		cep = "CEP " + a.CEP
	}
	return joinNonEmpty(" - ", street, a.Neighborhood, cityState, cep)
}

// MaskCPF hides all but the last two digits of a CPF.
func MaskCPF(cpf string) string {
	d := Digits(cpf)
	if len(d) < 2 {
		return "***.***.***-**"
	}
	return "***.***.***-" + d[len(d)-2:]
}

func shortID(f Family) string {
	s := f.ID.String()
	if len(s) < 8 {
		return ""
	}
	return strings.ToUpper(s[:8])
}

// properCase title-cases names typed entirely in upper or lower case and keeps mixed case.
func properCase(name string) string {
	hasUpper, hasLower := false, false
	for _, r := range name {
		hasUpper = hasUpper || unicode.IsUpper(r)
		hasLower = hasLower || unicode.IsLower(r)
	}
	if hasUpper && hasLower {
		return name
	}
	return cases.Title(language.BrazilianPortuguese).String(name)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
