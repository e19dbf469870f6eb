// Package schema derives draft to approved correspondences from element names.
package schema

import (
	"strings"

	"golang.org/x/text/cases"
)

const DefaultSuffix = "_APVD"

// NamedElement is an {id, name} pair as returned by metadata queries.
type NamedElement struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ElementCorrespondence links a draft element to its approved counterpart.
type ElementCorrespondence struct {
	OriginID      string `json:"originId"`
	DestinationID string `json:"destinationId"`
	BasicName     string `json:"basicName"`
}

// StageCorrespondence links a draft program stage to its approved counterpart.
type StageCorrespondence struct {
	OriginStageID      string `json:"originStageId"`
	DestinationStageID string `json:"destinationStageId"`
}

// Mapper derives the lookup key a destination element must carry to be the
// counterpart of an origin element. Implementations must be pure.
type Mapper interface {
	// Resolve maps an origin name to the destination lookup key.
	Resolve(originName string) string
	// Key normalizes a destination name into the same key space.
	Key(destinationName string) string
	// BasicName strips known prefixes and the approval marker from name.
	BasicName(name string) string
}

// NameMapper implements the suffix convention: the approved counterpart of
// "X" is named "X<suffix>", compared case- and whitespace-insensitively.
type NameMapper struct {
	suffix string
}

func NewNameMapper(suffix string) NameMapper {
	if strings.TrimSpace(suffix) == "" {
		suffix = DefaultSuffix
	}
	return NameMapper{suffix: suffix}
}

func (m NameMapper) Suffix() string {
	return m.suffix
}

func (m NameMapper) Resolve(originName string) string {
	return normalize(originName) + fold(m.suffix)
}

func (m NameMapper) Key(destinationName string) string {
	return normalize(destinationName)
}

func (m NameMapper) BasicName(name string) string {
	n := normalize(name)
	n = strings.TrimSuffix(n, fold(m.suffix))
	if i := strings.Index(n, commentPrefix); i >= 0 && (i == 0 || n[i-1] == '_' || n[i-1] == ' ') {
		n = n[:i] + n[i+len(commentPrefix):]
	}
	return strings.TrimSpace(n)
}

const commentPrefix = "comment of "

// fold lower-cases with full Unicode case folding. A Caser keeps state, so
// each call builds its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(fold(s)), " ")
}
