package storage

// CapacityQuery reports the free space available to the cache
type CapacityQuery interface {
	FreeBytes() (uint64, error)
}

// StatfsCapacity queries the filesystem holding Path
type StatfsCapacity struct {
	Path string
}

// NewStatfsCapacity creates a capacity query for the filesystem holding path
func NewStatfsCapacity(path string) *StatfsCapacity {
	return &StatfsCapacity{Path: path}
}

// FreeBytes returns the bytes available to unprivileged writers
func (c *StatfsCapacity) FreeBytes() (uint64, error) {
	return freeBytes(c.Path)
}
