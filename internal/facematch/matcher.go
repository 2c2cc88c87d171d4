package facematch

// Options controls how a probe is accepted.
type Options struct {
	Threshold      float64
	AuthorizedOnly bool
	// Model is the probe's embedding model. When set, records tagged with a
	// different model are not comparable and are skipped. Untagged records are
	// compared by length alone.
	Model string
}

// Match finds the gallery record with the highest confidence for the probe.
//
// Every candidate is scored with the same distance; there is no early exit because
// confidence does not depend on gallery order. With AuthorizedOnly, unauthorized records
// are filtered out before selection. On an exact tie the earlier record wins.
// The best record is returned as Matched only if it clears the threshold. Distance
// stays zero when no candidate was comparable.
func Match(probe Descriptor, gallery []FaceRecord, opts Options) Result {
	res := Result{
		ThresholdUsed:               opts.Threshold,
		AuthorizedOnlyFilterApplied: opts.AuthorizedOnly,
	}
	if len(probe) == 0 {
		return res
	}

	best := -1
	bestConf := -1.0
	for i := range gallery {
		candidate := &gallery[i]
		if opts.AuthorizedOnly && !candidate.Authorized {
			continue
		}
		if !comparable(candidate, probe, opts.Model) {
			continue
		}
		res.Candidates++

		d := EuclideanDistance(probe, candidate.Descriptor)
		conf := ConfidenceFromDistance(d)
		if conf > bestConf {
			best = i
			bestConf = conf
			res.Distance = d
		}
	}

	if best < 0 {
		return res
	}

	res.Confidence = bestConf
	if bestConf >= opts.Threshold {
		matched := gallery[best].Clone()
		res.Matched = &matched
	}
	return res
}

func comparable(candidate *FaceRecord, probe Descriptor, model string) bool {
	if len(candidate.Descriptor) != len(probe) {
		return false
	}
	return model == "" || candidate.Model == "" || candidate.Model == model
}
