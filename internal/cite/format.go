// Package cite formats in-text citation strings from paper metadata.
package cite

import (
	"fmt"
	"strings"

	"citetrail/internal/models"
)

// InText renders an author-year citation like "(Smith & Jones, 2020)".
// Three or more authors collapse to "et al.". Missing metadata degrades
// to whatever is available rather than failing.
func InText(authors []models.Author, year *int) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if n := familyName(a.Name); n != "" {
			names = append(names, n)
		}
	}

	var who string
	switch {
	case len(names) == 0:
		who = "Unknown"
	case len(names) == 1:
		who = names[0]
	case len(names) == 2:
		who = names[0] + " & " + names[1]
	default:
		who = names[0] + " et al."
	}

	if year == nil {
		return fmt.Sprintf("(%s, n.d.)", who)
	}
	return fmt.Sprintf("(%s, %d)", who, *year)
}

// Reference renders a one-line bibliography entry.
func Reference(p models.Paper) string {
	var b strings.Builder
	names := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		names = append(names, a.Name)
	}
	if len(names) > 0 {
		b.WriteString(strings.Join(names, ", "))
	} else {
		b.WriteString("Unknown")
	}
	if p.Year != nil {
		fmt.Fprintf(&b, " (%d).", *p.Year)
	}
	b.WriteString(" " + p.Title + ".")
	if p.Venue != "" {
		b.WriteString(" " + p.Venue + ".")
	}
	if p.DOI != "" {
		b.WriteString(" https://doi.org/" + p.DOI)
	}
	return b.String()
}

func familyName(full string) string {
	fields := strings.Fields(strings.TrimSpace(full))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
