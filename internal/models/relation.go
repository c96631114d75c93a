package models

import "sort"

// Relation is a named many-to-many association from a source kind to a
// target kind.
type Relation struct {
	Name        string `json:"name"`
	Source      Kind   `json:"source"`
	Target      Kind   `json:"target"`
	Description string `json:"description"`
}

var catalog = buildCatalog()

func buildCatalog() map[string]Relation {
	rels := []Relation{
		{"memo-properties", KindMemo, KindProperty, "Properties a memo is about"},
		{"contact-properties", KindContact, KindProperty, "Properties a contact owns, rents or is interested in"},
		{"sale-properties", KindSale, KindProperty, "Properties sold in a sale"},
		{"sale-contacts", KindSale, KindContact, "Buyers, sellers and agents of a sale"},
		{"payment-sales", KindPayment, KindSale, "Sales a payment settles"},
		{"investment-properties", KindInvestment, KindProperty, "Properties an investment is placed in"},
		{"expense-properties", KindExpense, KindProperty, "Properties an expense was incurred on"},
	}
	for _, k := range Kinds() {
		if k == KindAttachment {
			continue
		}
		rels = append(rels, Relation{
			Name:        string(k) + "-files",
			Source:      k,
			Target:      KindAttachment,
			Description: "Files attached to a " + string(k),
		})
	}

	out := make(map[string]Relation, len(rels))
	for _, r := range rels {
		out[r.Name] = r
	}
	return out
}

// LookupRelation returns the relation registered under name.
func LookupRelation(name string) (Relation, bool) {
	r, ok := catalog[name]
	return r, ok
}

// Relations returns the catalog sorted by name.
func Relations() []Relation {
	out := make([]Relation, 0, len(catalog))
	for _, r := range catalog {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RelationsFor returns the relations whose source or target is kind.
func RelationsFor(kind Kind) []Relation {
	var out []Relation
	for _, r := range Relations() {
		if r.Source == kind || r.Target == kind {
			out = append(out, r)
		}
	}
	return out
}
