// Package sysmem reports the physical memory of the host.
package sysmem

// FallbackBytes (4 GiB) stands in when the platform query fails or is unsupported.
const FallbackBytes uint64 = 4 << 30

// Info describes host memory.
type Info struct {
	TotalBytes uint64
	// Detected is false when TotalBytes is FallbackBytes.
	Detected bool
}

// Detect queries the platform for total physical memory.
func Detect() Info {
	n, ok := physicalMemory()
	if !ok || n == 0 {
		return Info{TotalBytes: FallbackBytes}
	}
	return Info{TotalBytes: n, Detected: true}
}

// Share returns n as a fraction of total memory.
func (i Info) Share(n uint64) float64 {
	if i.TotalBytes == 0 {
		return 0
	}
	return float64(n) / float64(i.TotalBytes)
}
