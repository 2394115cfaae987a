//go:build !linux && !darwin

package doctor

import "context"

// FileDescriptorChecker is a no-op where RLIMIT_NOFILE does not exist
type FileDescriptorChecker struct{}

func NewFileDescriptorChecker() *FileDescriptorChecker {
	return &FileDescriptorChecker{}
}

func (c *FileDescriptorChecker) Name() string       { return "File descriptors" }
func (c *FileDescriptorChecker) Category() Category { return CategorySystem }

func (c *FileDescriptorChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:     c.Name(),
		Category: c.Category(),
		Status:   StatusSkipped,
		Message:  "File descriptors: not applicable on this platform",
	}
}
