package page

import "errors"

// ErrPageUndersized is returned by Load when the supplied buffer is
// smaller than the header. This is a programmer error: the caller handed
// the page a buffer that can't even hold the header, let alone an entry.
var ErrPageUndersized = errors.New("page: buffer smaller than header size")

// ErrDecodeFailure is returned by Get when an entry's header was found and
// matched by hash, but its key or value could not be decoded. It is
// distinct from "not found": the caller should log it, not treat a
// genuine absence the same way as a corrupt entry.
var ErrDecodeFailure = errors.New("page: failed to decode entry")
