package analyzer

// Counts tallies signatures and stamps across regions.
type Counts struct {
	Signatures int `json:"signatures" yaml:"signatures"`
	Stamps     int `json:"stamps" yaml:"stamps"`
}

func (c Counts) Add(o Counts) Counts {
	return Counts{Signatures: c.Signatures + o.Signatures, Stamps: c.Stamps + o.Stamps}
}

// SummarizeCounts counts regions by label. A mix region counts as both a
// signature and a stamp; unknown labels are ignored.
func SummarizeCounts(regions []Region) Counts {
	var c Counts
	for _, r := range regions {
		switch r.Label {
		case LabelMix:
			c.Signatures++
			c.Stamps++
		case LabelSignature:
			c.Signatures++
		case LabelStamp:
			c.Stamps++
		}
	}
	return c
}
