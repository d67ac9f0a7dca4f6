package mux

import "net"

// prereadConn wraps an accepted connection so Read first drains bytes the
// classifier loop already buffered, and only falls through to the
// underlying connection once those are exhausted (SPEC_FULL.md §4.5).
type prereadConn struct {
	net.Conn
	held []byte
}

func newPrereadConn(conn net.Conn, held []byte) *prereadConn {
	return &prereadConn{Conn: conn, held: held}
}

func (c *prereadConn) Read(p []byte) (int, error) {
	if len(c.held) == 0 {
		return c.Conn.Read(p)
	}

	n := copy(p, c.held)
	c.held = c.held[n:]
	if n == len(p) {
		return n, nil
	}

	m, err := c.Conn.Read(p[n:])
	return n + m, err
}
