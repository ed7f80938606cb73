package model

// Acronym is a merge-on-insert (by Acronym) glossary entry.
type Acronym struct {
	Acronym    string   `json:"acronym"`
	Definition string   `json:"definition"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Verified   bool     `json:"verified"`
}

// SynonymKind distinguishes the relationship a synonym pair represents.
type SynonymKind string

const (
	SynonymKindAbbreviation SynonymKind = "abbreviation"
	SynonymKindAlias        SynonymKind = "alias"
	SynonymKindRelated      SynonymKind = "related"
)

// Synonym is a merge-on-insert (by Term, Synonym, Kind) glossary relationship.
type Synonym struct {
	Term       string      `json:"term"`
	Synonym    string      `json:"synonym"`
	Kind       SynonymKind `json:"kind"`
	Confidence float64     `json:"confidence"`
}
