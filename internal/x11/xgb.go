package x11

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
)

// xgbServer speaks to the X server with jezek/xgb.
type xgbServer struct {
	conn *xgb.Conn
	root xproto.Window
}

func dialXGB(name string) (server, error) {
	conn, err := xgb.NewConnDisplay(name)
	if err != nil {
		return nil, err
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("XTEST extension: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &xgbServer{conn: conn, root: screen.Root}, nil
}

func (s *xgbServer) fakeInput(event, detail byte) error {
	return xtest.FakeInputChecked(s.conn, event, detail, 0, s.root, 0, 0, 0).Check()
}

func (s *xgbServer) warp(relative bool, x, y int16) error {
	dst := s.root
	if relative {
		dst = xproto.WindowNone
	}
	return xproto.WarpPointerChecked(s.conn, xproto.WindowNone, dst, 0, 0, 0, 0, x, y).Check()
}

func (s *xgbServer) pointer() (int16, int16, error) {
	reply, err := xproto.QueryPointer(s.conn, s.root).Reply()
	if err != nil {
		return 0, 0, err
	}
	return reply.RootX, reply.RootY, nil
}

func (s *xgbServer) keymap() ([]byte, error) {
	reply, err := xproto.QueryKeymap(s.conn).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Keys, nil
}

func (s *xgbServer) close() {
	s.conn.Close()
}
