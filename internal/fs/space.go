package fs

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"

	"pibackup/internal/backup"
)

// SpaceProber reports live filesystem usage through gopsutil.
type SpaceProber struct{}

// NewSpaceProber creates a SpaceProber.
func NewSpaceProber() *SpaceProber {
	return &SpaceProber{}
}

// Usage returns the capacity and filesystem type of the filesystem holding path.
func (p *SpaceProber) Usage(path string) (backup.Capacity, string, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return backup.Capacity{}, "", fmt.Errorf("statfs %s: %w", path, err)
	}
	return backup.Capacity{
		Total: stat.Total,
		Used:  stat.Used,
		Free:  stat.Free,
	}, stat.Fstype, nil
}
