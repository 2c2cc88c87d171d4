// Package facematch holds the face record model and the descriptor matching routines
// shared by the enrollment and authentication flows.
package facematch

import "time"

// Descriptor is a fixed-length face embedding produced by an embedding model.
type Descriptor []float32

// DefaultDescriptorDim is the dimensionality used by the dlib model and the fallback classifier.
const DefaultDescriptorDim = 128

// FaceRecord is one enrolled identity in the gallery.
type FaceRecord struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Role           string     `json:"role,omitempty"`
	Descriptor     Descriptor `json:"descriptor"`
	Authorized     bool       `json:"authorized"`
	EnrolledAt     time.Time  `json:"enrolled_at"`
	SourceImageRef string     `json:"source_image_ref,omitempty"`
	SelfEnrolled   bool       `json:"self_enrolled"`
	Simulated      bool       `json:"simulated"`       // descriptor came from the fallback classifier
	Model          string     `json:"model,omitempty"` // embedding model that produced Descriptor
}

// Clone returns a deep copy so callers cannot mutate gallery-owned descriptors.
func (r FaceRecord) Clone() FaceRecord {
	out := r
	if r.Descriptor != nil {
		out.Descriptor = make(Descriptor, len(r.Descriptor))
		copy(out.Descriptor, r.Descriptor)
	}
	return out
}

// Result is the outcome of matching a probe descriptor against a gallery.
type Result struct {
	Matched                     *FaceRecord `json:"matched,omitempty"`
	Confidence                  float64     `json:"confidence"`
	Distance                    float64     `json:"distance"`
	ThresholdUsed               float64     `json:"threshold_used"`
	AuthorizedOnlyFilterApplied bool        `json:"authorized_only_filter_applied"`
	Simulated                   bool        `json:"simulated"`
	Candidates                  int         `json:"candidates"`
}

// IsMatch reports whether a record was accepted.
func (r Result) IsMatch() bool {
	return r.Matched != nil
}
