//go:build (darwin && !ios) || linux

package pixbuf

import "golang.org/x/sys/unix"

// sysvSegment is a SysV shared-memory attachment. The producer (X server via
// MIT-SHM, or another process) owns the segment; we only attach read-only and
// detach. Segment removal is the producer's job.
type sysvSegment struct {
	data []byte
}

func attachShm(shmID int) (segment, error) {
	data, err := unix.SysvShmAttach(shmID, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, err
	}
	return &sysvSegment{data: data}, nil
}

func (s *sysvSegment) bytes() []byte { return s.data }

func (s *sysvSegment) detach() error {
	if s.data == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.data)
	s.data = nil
	return err
}
