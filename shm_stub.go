//go:build !((darwin && !ios) || linux)

package pixbuf

func attachShm(shmID int) (segment, error) {
	return nil, ErrNotSupported
}
