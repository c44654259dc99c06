package lifecycle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// descriptorFile creates the memfd that carries a RunningInstance descriptor
// into the hypervisor child's environment: passed through as an ExtraFile
// (visible to the child as discovery.DescriptorFDEnvKey's fd number), it is
// seekable and stays resident in the page cache for the life of the process,
// so unrelated scanning processes can each open and read
// /proc/<pid>/fd/<N> independently, as many times as they like, and still
// see the same bytes. A pipe cannot do this: its read end is drained on
// first read and EOFs forever once the write end closes.
func descriptorFile() (*os.File, error) {
	fd, err := unix.MemfdCreate("transient-descriptor", 0)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: memfd_create: %w", err)
	}
	return os.NewFile(uintptr(fd), "transient-descriptor"), nil
}
