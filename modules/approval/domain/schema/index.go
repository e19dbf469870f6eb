package schema

// Index holds destination elements keyed by their normalized name, in
// metadata order.
type Index struct {
	mapper Mapper
	byKey  map[string][]NamedElement
}

func NewIndex(mapper Mapper, destinations []NamedElement) *Index {
	byKey := make(map[string][]NamedElement, len(destinations))
	for _, d := range destinations {
		k := mapper.Key(d.Name)
		byKey[k] = append(byKey[k], d)
	}
	return &Index{mapper: mapper, byKey: byKey}
}

// Lookup returns the destination counterpart of originName. When several
// destinations share the key the first one wins and ambiguous is true.
func (ix *Index) Lookup(originName string) (dest NamedElement, ambiguous, ok bool) {
	candidates := ix.byKey[ix.mapper.Resolve(originName)]
	if len(candidates) == 0 {
		return NamedElement{}, false, false
	}
	return candidates[0], len(candidates) > 1, true
}

// Match is the outcome of correlating origin elements against an Index.
type Match struct {
	Correspondences []ElementCorrespondence
	// Origins with no destination counterpart.
	Misses []NamedElement
	// Origins whose key matched more than one destination.
	Ambiguous []NamedElement
}

func (ix *Index) Match(origins []NamedElement) Match {
	var m Match
	for _, o := range origins {
		dest, ambiguous, ok := ix.Lookup(o.Name)
		if !ok {
			m.Misses = append(m.Misses, o)
			continue
		}
		if ambiguous {
			m.Ambiguous = append(m.Ambiguous, o)
		}
		m.Correspondences = append(m.Correspondences, ElementCorrespondence{
			OriginID:      o.ID,
			DestinationID: dest.ID,
			BasicName:     ix.mapper.BasicName(o.Name),
		})
	}
	return m
}

// Stages converts element correspondences into stage correspondences.
func Stages(m Match) []StageCorrespondence {
	out := make([]StageCorrespondence, 0, len(m.Correspondences))
	for _, c := range m.Correspondences {
		out = append(out, StageCorrespondence{OriginStageID: c.OriginID, DestinationStageID: c.DestinationID})
	}
	return out
}

// StageTable is a lookup from draft stage id to approved stage id.
type StageTable map[string]string

func NewStageTable(pairs []StageCorrespondence) StageTable {
	t := make(StageTable, len(pairs))
	for _, p := range pairs {
		if _, seen := t[p.OriginStageID]; !seen {
			t[p.OriginStageID] = p.DestinationStageID
		}
	}
	return t
}

func (t StageTable) Destination(originStageID string) (string, bool) {
	id, ok := t[originStageID]
	return id, ok
}

// ElementTable is a lookup from draft element id to approved element id.
type ElementTable map[string]string

func NewElementTable(corrs []ElementCorrespondence) ElementTable {
	t := make(ElementTable, len(corrs))
	for _, c := range corrs {
		if _, seen := t[c.OriginID]; !seen {
			t[c.OriginID] = c.DestinationID
		}
	}
	return t
}
