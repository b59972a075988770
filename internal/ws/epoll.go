//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// readEvents is one-shot: after a descriptor is reported it stays disarmed
// until Rearm, so a frame is never handed to two workers.
const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT

// Epoll parks idle connections in the kernel instead of a goroutine each.
type Epoll struct {
	fd int

	mu    sync.RWMutex
	byFd  map[int]net.Conn
	fdOf  map[net.Conn]int
	ready []unix.EpollEvent
}

func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:    fd,
		byFd:  make(map[int]net.Conn),
		fdOf:  make(map[net.Conn]int),
		ready: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn, armed for one read notification.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EINVAL
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	e.mu.Lock()
	e.byFd[fd] = conn
	e.fdOf[conn] = fd
	e.mu.Unlock()
	return nil
}

// Rearm re-enables notifications for conn once its current frame is read.
// A conn removed in the meantime is ignored.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.RLock()
	fd, ok := e.fdOf[conn]
	e.mu.RUnlock()
	if !ok {
		return
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove unregisters conn. It uses the descriptor recorded by Add, which
// stays valid to look up even after conn is closed.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	fd, ok := e.fdOf[conn]
	if ok {
		delete(e.fdOf, conn)
		delete(e.byFd, fd)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait returns the connections that became readable, waiting at most
// 500ms so the caller can notice shutdown.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.ready, 500)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]net.Conn, 0, n)
	for _, ev := range e.ready[:n] {
		if conn, ok := e.byFd[int(ev.Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFd = map[int]net.Conn{}
	e.fdOf = map[net.Conn]int{}
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD reads the descriptor through SyscallConn, which does not dup it.
// It returns -1 for conns without one, including closed ones.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
