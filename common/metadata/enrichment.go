package metadata

// Enrichment is the outcome of a best-effort metadata lookup. A failed lookup
// still yields a usable (possibly empty) map so the caller can decide whether
// partial provenance is acceptable.
type Enrichment struct {
	Metadata Map
	Missing  []string
	Err      error
}

// Complete reports whether the lookup succeeded and every required key was present.
func (e Enrichment) Complete() bool {
	return e.Err == nil && len(e.Missing) == 0
}

// Enrich runs fetch and records which of the required keys are absent.
func Enrich(fetch func() (Map, error), required ...string) Enrichment {
	m, err := fetch()
	if err != nil {
		return Enrichment{Metadata: Map{}, Missing: required, Err: err}
	}
	if m == nil {
		m = Map{}
	}
	var missing []string
	for _, k := range required {
		if m[k] == "" {
			missing = append(missing, k)
		}
	}
	return Enrichment{Metadata: m, Missing: missing}
}
