package smallstore

// AdmissionPicker decides whether a key is allowed onto disk at all. The
// small-object page and wait group are the leaf components spec.md
// describes; pickers are the surrounding disk-cache engine's policy, kept
// here only as the minimal interface a caller plugs a real policy into.
type AdmissionPicker interface {
	Admit(key []byte) bool
}

// ReinsertionPicker decides whether an entry being evicted from a page
// should be reinserted (e.g. written back to a different tier) instead of
// dropped. The default store never reinserts.
type ReinsertionPicker interface {
	Reinsert(key []byte) bool
}

type alwaysAdmit struct{}

func (alwaysAdmit) Admit([]byte) bool { return true }

type neverReinsert struct{}

func (neverReinsert) Reinsert([]byte) bool { return false }
