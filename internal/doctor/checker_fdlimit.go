//go:build linux || darwin

package doctor

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// RecommendedFileDescriptors is the recommended minimum soft limit. Every
// relay holds two sockets.
const RecommendedFileDescriptors uint64 = 16384

// FileDescriptorChecker checks the file descriptor soft limit
type FileDescriptorChecker struct{}

func NewFileDescriptorChecker() *FileDescriptorChecker {
	return &FileDescriptorChecker{}
}

func (c *FileDescriptorChecker) Name() string       { return "File descriptors" }
func (c *FileDescriptorChecker) Category() Category { return CategorySystem }

func (c *FileDescriptorChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     c.Name(),
		Category: c.Category(),
	}

	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarning
		result.Message = "File descriptors: Unable to check"
		result.Details = err.Error()
		return result
	}

	softLimit := rLimit.Cur

	if softLimit >= RecommendedFileDescriptors {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("File descriptors: %d (>= %d recommended)", softLimit, RecommendedFileDescriptors)
	} else {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("File descriptors: %d (about %d concurrent relays)", softLimit, softLimit/2)
		result.Hint = fmt.Sprintf("Raise with 'ulimit -n %d' or LimitNOFILE in the service unit", RecommendedFileDescriptors)
	}

	return result
}
