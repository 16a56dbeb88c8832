package frontend

import (
	"context"
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortListener opens a TCP listener on addr with SO_REUSEADDR and
// SO_REUSEPORT set, so every acceptor goroutine can bind the same
// address and let the kernel load-balance accepts across them — the
// Go equivalent of the original's TcpBuilder::reuse_address(true)
// .reuse_port(true). Grounded on joeycumines-go-utilpkg's
// eventloop/fd_unix.go for direct golang.org/x/sys/unix fd control.
func reusePortListener(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}

// singleConnListener adapts one already-accepted net.Conn into a
// net.Listener that yields exactly that connection once, then blocks
// until closed. This lets each worker reuse http.Server.Serve()'s
// HTTP/1.1 parsing for a connection handed off outside of Accept(),
// without reimplementing an HTTP/1.1 codec.
type singleConnListener struct {
	conn   net.Conn
	served bool
	done   chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, done: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.served {
		<-l.done
		return nil, errors.New("frontend: single-shot listener exhausted")
	}
	l.served = true
	// http.Server.Serve loops on Accept independently of the
	// connection's own lifetime; wrapping Close() to also close the
	// listener is what makes Serve() return once this one connection
	// finishes, instead of blocking forever waiting for a second Accept.
	return &closeNotifyConn{Conn: l.conn, onClose: l.Close}, nil
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

// closeNotifyConn calls onClose (once) when the underlying connection
// is closed, so the owning singleConnListener can unblock its second
// Accept() call and let http.Server.Serve return.
type closeNotifyConn struct {
	net.Conn
	onClose func() error
}

func (c *closeNotifyConn) Close() error {
	err := c.Conn.Close()
	if c.onClose != nil {
		c.onClose()
	}
	return err
}
