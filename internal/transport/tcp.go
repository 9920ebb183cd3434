// ABOUTME: TCP listener, dialer and line connection used by both agent roles
// ABOUTME: Accept is bound to a context so loops cancel without polling

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/2389/wardlink/internal/wire"
)

// DefaultReadTimeout bounds how long an accepted connection may take to
// deliver a full command.
const DefaultReadTimeout = 5 * time.Second

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("listener closed")

// aLongTimeAgo is a deadline that has always expired. Setting it wakes a
// blocked Accept immediately.
var aLongTimeAgo = time.Unix(1, 0)

// tryAcceptWindow is how long TryAccept lets the kernel hand over an
// already-queued connection.
const tryAcceptWindow = time.Millisecond

// Listener accepts connections on one local endpoint. It is owned by the
// loop that opened it.
type Listener struct {
	ln *net.TCPListener

	// ReadTimeout is applied to every accepted connection. Zero disables it.
	ReadTimeout time.Duration

	// OnDrop, when set, is told about every connection Next discards.
	OnDrop func(err error)

	closeOnce sync.Once
	closeErr  error
}

// CheckAddress reports whether address is an IP literal Dial accepts.
func CheckAddress(address string) error {
	if net.ParseIP(address) == nil {
		return fmt.Errorf("address %q: %w", address, ErrInvalidAddress)
	}
	return nil
}

// Listen binds address:port and starts listening. Port 0 picks a free port.
func Listen(address string, port int) (*Listener, error) {
	if address != "" && net.ParseIP(address) == nil {
		return nil, fmt.Errorf("listening on %q: %w", address, ErrInvalidAddress)
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	return &Listener{
		ln:          ln.(*net.TCPListener),
		ReadTimeout: DefaultReadTimeout,
	}, nil
}

// Addr returns the bound endpoint in host:port form.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// TryAccept returns a pending connection, or nil when none is queued. It
// never waits for a peer.
func (l *Listener) TryAccept() (*Conn, error) {
	if err := l.ln.SetDeadline(time.Now().Add(tryAcceptWindow)); err != nil {
		return nil, l.acceptErr(err)
	}

	c, err := l.ln.Accept()
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, l.acceptErr(err)
	}
	return l.wrap(c), nil
}

// Accept blocks until a connection arrives or ctx is done. A context
// deadline acts as an accept deadline. The listener stays open after ctx
// ends so the caller decides when to close it.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.ln.SetDeadline(time.Time{}); err != nil {
			return nil, l.acceptErr(err)
		}

		stop := context.AfterFunc(ctx, func() {
			_ = l.ln.SetDeadline(aLongTimeAgo)
		})
		c, err := l.ln.Accept()
		stop()

		if err == nil {
			return l.wrap(c), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// A wake-up left over from an earlier call; ctx is still live.
		if isTimeout(err) {
			continue
		}
		return nil, l.acceptErr(err)
	}
}

// acceptRetryDelay spaces out retries after a transient accept failure.
const acceptRetryDelay = 10 * time.Millisecond

// Next accepts connections until one delivers a decodable command, and
// returns it with the sender's host. Connections that fail to decode are
// closed and dropped. Only ctx ending or the listener closing ends Next.
func (l *Listener) Next(ctx context.Context) (wire.Command, string, error) {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrListenerClosed) {
				return nil, "", err
			}
			l.drop(err)
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		cmd, err := conn.Receive()
		host := conn.RemoteHost()
		_ = conn.Close()
		if err != nil {
			l.drop(fmt.Errorf("from %s: %w", host, err))
			continue
		}
		return cmd, host, nil
	}
}

func (l *Listener) drop(err error) {
	if l.OnDrop != nil {
		l.OnDrop(err)
	}
}

// Close stops the listener. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

func (l *Listener) wrap(c net.Conn) *Conn {
	conn := newConn(c)
	conn.readTimeout = l.ReadTimeout
	return conn
}

func (l *Listener) acceptErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrListenerClosed
	}
	return fmt.Errorf("accepting on %s: %w", l.Addr(), err)
}

// Dial connects to address:port. The address must be an IP literal.
// A zero timeout leaves only the context deadline in effect.
func Dial(ctx context.Context, address string, port int, timeout time.Duration) (*Conn, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	if net.ParseIP(address) == nil {
		return nil, &DialError{Kind: InvalidAddress, Addr: addr}
	}

	c, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DialError{Kind: Unreachable, Addr: addr, Err: err}
	}
	return newConn(c), nil
}

// Deliver dials address:port, sends cmd and closes the connection.
func Deliver(ctx context.Context, address string, port int, timeout time.Duration, cmd wire.Command) error {
	conn, err := Dial(ctx, address, port, timeout)
	if err != nil {
		return err
	}
	if err := conn.Send(cmd); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sending %s to %s: %w", cmd.Keyword(), address, err)
	}
	return conn.Close()
}

// Conn is one short-lived protocol connection.
type Conn struct {
	conn        net.Conn
	r           *bufio.Reader
	w           *bufio.Writer
	readTimeout time.Duration
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		r:    bufio.NewReader(c),
		w:    bufio.NewWriter(c),
	}
}

// SetReadTimeout changes the deadline applied before each Receive.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

// Send writes cmd and flushes it to the peer.
func (c *Conn) Send(cmd wire.Command) error {
	if err := wire.Encode(c.w, cmd); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", cmd.Keyword(), err)
	}
	return nil
}

// Receive reads one command, giving the peer at most the read timeout.
func (c *Conn) Receive() (wire.Command, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
	}
	return wire.Decode(c.r)
}

// Reader exposes the buffered line reader.
func (c *Conn) Reader() *bufio.Reader { return c.r }

// Writer exposes the buffered line writer. Close flushes it.
func (c *Conn) Writer() *bufio.Writer { return c.w }

// RemoteHost returns the peer's IP without the port.
func (c *Conn) RemoteHost() string {
	return hostOf(c.conn.RemoteAddr())
}

// LocalHost returns the local IP without the port.
func (c *Conn) LocalHost() string {
	return hostOf(c.conn.LocalAddr())
}

// Close flushes pending writes and closes the connection.
func (c *Conn) Close() error {
	flushErr := c.w.Flush()
	return errors.Join(flushErr, c.conn.Close())
}

func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
