package modelkey

// AliasMaps is the pair of maps the dispatcher consults once per decision
// to resolve a requested model name to its family's canonical form.
type AliasMaps struct {
	// CanonicalToVariants maps a family's preferred canonical form to the
	// complete set of raw identifiers that belong to that family.
	CanonicalToVariants map[string]map[string]struct{}
	// VariantToCanonical maps every raw identifier, and its own
	// re-normalized canonical form, to the family's preferred canonical.
	VariantToCanonical map[string]string
}

type familyCandidate struct {
	desc  Descriptor
	order int
}

// BuildAliasMaps groups every raw model identifier across all providers by
// family key. Within a family, the candidate with the highest version
// becomes the preferred canonical (ties, or families with no versioned
// candidate, fall back to first-seen order).
func BuildAliasMaps(rawIdentifiers []string) AliasMaps {
	families := make(map[string][]familyCandidate)
	order := 0
	for _, raw := range rawIdentifiers {
		d := Normalize(raw)
		families[d.FamilyKey] = append(families[d.FamilyKey], familyCandidate{desc: d, order: order})
		order++
	}

	maps := AliasMaps{
		CanonicalToVariants: make(map[string]map[string]struct{}),
		VariantToCanonical:  make(map[string]string),
	}

	for _, candidates := range families {
		preferred := pickPreferred(candidates)

		variants, ok := maps.CanonicalToVariants[preferred.desc.Canonical]
		if !ok {
			variants = make(map[string]struct{})
			maps.CanonicalToVariants[preferred.desc.Canonical] = variants
		}
		for _, c := range candidates {
			variants[c.desc.Raw] = struct{}{}
			maps.VariantToCanonical[c.desc.Raw] = preferred.desc.Canonical
			maps.VariantToCanonical[c.desc.Canonical] = preferred.desc.Canonical
		}
	}

	return maps
}

// pickPreferred picks, within one family, the candidate with the highest
// version; falls back to the first-seen candidate if none is versioned.
func pickPreferred(candidates []familyCandidate) familyCandidate {
	best := candidates[0]
	bestHasVersion := len(best.desc.VersionParts) > 0
	for _, c := range candidates[1:] {
		hasVersion := len(c.desc.VersionParts) > 0
		switch {
		case hasVersion && !bestHasVersion:
			best, bestHasVersion = c, true
		case hasVersion && bestHasVersion:
			if CompareVersions(c.desc.VersionParts, best.desc.VersionParts) > 0 {
				best = c
			}
		}
	}
	return best
}

// ResolveCanonical resolves a client-requested model name to its family's
// canonical form: first via the inverse map, then via the inverse map
// entry of its own canonical form, then its own canonical form itself.
func (m AliasMaps) ResolveCanonical(requested string) string {
	if c, ok := m.VariantToCanonical[requested]; ok {
		return c
	}
	own := Normalize(requested).Canonical
	if c, ok := m.VariantToCanonical[own]; ok {
		return c
	}
	return own
}
