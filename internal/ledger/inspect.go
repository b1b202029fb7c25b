package ledger

import "path/filepath"

// Info is a read-only summary of a ledger directory.
type Info struct {
	TotalEvents      uint64
	MaxEventID       uint64
	StorageSizeBytes uint64
	Meta             map[string]string
}

// Inspect summarizes a ledger directory without taking the writer lock, so
// it works while a daemon is recording. It sees only flushed data.
func Inspect(dir string) (Info, error) {
	count, maxID, err := scanEvents(filepath.Join(dir, eventsFileName))
	if err != nil {
		return Info{}, err
	}
	meta, err := loadMeta(filepath.Join(dir, metaFileName))
	if err != nil {
		return Info{}, err
	}
	size, err := storageSize(dir)
	if err != nil {
		return Info{}, err
	}
	return Info{
		TotalEvents:      count,
		MaxEventID:       maxID,
		StorageSizeBytes: size,
		Meta:             meta,
	}, nil
}
