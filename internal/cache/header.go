package cache

import "time"

// Header records the snapshot metadata attached to every cached document:
// the true resource time (the server's Date minus any Age) and, when the
// server sent one, the entity tag used for later revalidation.
type Header struct {
	Date time.Time `yaml:"date"`
	Etag string    `yaml:"etag,omitempty"`
}

// WithoutEtag returns a copy of the header with the etag dropped. Listing
// and batch etags never validate per-item requests, so they must not be
// persisted alongside derived documents.
func (h Header) WithoutEtag() Header {
	h.Etag = ""
	return h
}
