package storage

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/deemusic/songcache/internal/monitoring"
	"github.com/deemusic/songcache/internal/store"
)

// UnknownCapacity is reported when the free space query fails
const UnknownCapacity = "Unknown"

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// Accountant derives storage usage from the metadata index. It owns no state.
type Accountant struct {
	prober   FileProber
	capacity CapacityQuery
	logger   *zap.Logger
}

// NewAccountant creates a new accountant
func NewAccountant(prober FileProber, capacity CapacityQuery, logger *zap.Logger) *Accountant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accountant{
		prober:   prober,
		capacity: capacity,
		logger:   logger.Named("storage"),
	}
}

// UsedBytes sums the audio file sizes of every entry in idx. Artwork is not
// counted. Entries whose audio file is missing are skipped.
func (a *Accountant) UsedBytes(idx store.Index) int64 {
	var total int64
	for category, tracks := range idx {
		for _, t := range tracks {
			if !a.prober.Exists(t.LocalAudioPath) {
				a.logger.Debug("cached audio missing, skipping",
					zap.String("category", category),
					zap.String("track_id", t.ID),
					zap.String("path", t.LocalAudioPath),
				)
				continue
			}
			size, err := a.prober.Size(t.LocalAudioPath)
			if err != nil {
				a.logger.Warn("failed to size cached audio",
					zap.String("category", category),
					zap.String("track_id", t.ID),
					zap.Error(err),
				)
				continue
			}
			total += size
		}
	}

	monitoring.SetCachedBytes(total)
	a.logger.Debug("computed used storage",
		zap.Int("entries", idx.Len()),
		zap.String("used", humanize.IBytes(uint64(total))),
	)
	return total
}

// UsedStorage returns the formatted used storage for idx
func (a *Accountant) UsedStorage(idx store.Index) string {
	return FormatBytes(a.UsedBytes(idx))
}

// TotalCapacity returns the formatted free space, or UnknownCapacity when
// the query fails
func (a *Accountant) TotalCapacity() string {
	if a.capacity == nil {
		return UnknownCapacity
	}
	free, err := a.capacity.FreeBytes()
	if err != nil {
		a.logger.Warn("failed to query free space", zap.Error(err))
		return UnknownCapacity
	}
	return FormatBytes(int64(free))
}

// FormatBytes formats n in base-1024 units with two decimals.
// Zero formats as "0 Bytes".
func FormatBytes(n int64) string {
	if n == 0 {
		return "0 Bytes"
	}

	value := float64(n)
	unit := 0
	for (value >= 1024 || value <= -1024) && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}

	return fmt.Sprintf("%.2f %s", value, byteUnits[unit])
}
