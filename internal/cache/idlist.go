package cache

// IDList is the cached id listing for one owner: the snapshot header from
// the last completed enumeration plus every id seen so far, strictly
// ascending. It is what lets the keyset cursor resume instead of paging
// the whole set again.
type IDList struct {
	Header Header
	IDs    []uint64
}

// ReadIDList loads an owner's id listing. A missing file reads as
// (nil, nil); ids out of order are corruption.
func (s *Store) ReadIDList(path string) (*IDList, error) {
	var ids []uint64
	hdr, err := readDocuments(path, &ids)
	if hdr == nil || err != nil {
		return nil, err
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return nil, &CorruptError{Path: path, Reason: "ids are not strictly ascending"}
		}
	}
	return &IDList{Header: *hdr, IDs: ids}, nil
}

// WriteIDList replaces an owner's id listing.
func (s *Store) WriteIDList(path string, hdr Header, ids []uint64) error {
	if ids == nil {
		ids = []uint64{}
	}
	return writeDocuments(path, hdr, ids)
}
