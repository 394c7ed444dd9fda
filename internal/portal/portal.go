// Package portal talks to the desktop portal's RemoteDesktop interface on
// the session bus. It is the permission broker behind a session.
package portal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"crossinput/internal/logging"
	"crossinput/internal/session"
)

// Well-known names on the session bus.
const (
	BusName          = "org.freedesktop.portal.Desktop"
	ObjectPath       = "/org/freedesktop/portal/desktop"
	RemoteDesktop    = "org.freedesktop.portal.RemoteDesktop"
	RequestInterface = "org.freedesktop.portal.Request"
	SessionInterface = "org.freedesktop.portal.Session"
)

const responseMember = "Response"

// ErrNoUniqueName is returned when the bus connection has no unique name.
var ErrNoUniqueName = errors.New("portal: connection has no unique name")

// Client is a private session bus connection to the portal.
type Client struct {
	conn   *dbus.Conn
	sender string
	portal dbus.BusObject
	log    *logging.Logger
}

// Dial opens a private session bus connection.
func Dial() (session.Broker, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	c, err := newClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func newClient(conn *dbus.Conn) (*Client, error) {
	names := conn.Names()
	if len(names) == 0 || names[0] == "" {
		return nil, ErrNoUniqueName
	}
	c := &Client{
		conn:   conn,
		sender: SenderToken(names[0]),
		portal: conn.Object(BusName, ObjectPath),
		log:    logging.Default().WithComponent("portal"),
	}
	c.log.Debug("connected to session bus", "unique_name", names[0])
	return c, nil
}

// SenderToken turns a unique bus name into the form used in portal object
// paths: the leading colon is dropped and dots become underscores.
func SenderToken(unique string) string {
	return strings.ReplaceAll(strings.TrimPrefix(unique, ":"), ".", "_")
}

// RequestPath returns the path of the Request object for a handle token.
func RequestPath(sender, token string) string {
	return "/org/freedesktop/portal/desktop/request/" + sender + "/" + token
}

// SessionPath returns the path of the Session object for a session token.
func SessionPath(sender, token string) string {
	return "/org/freedesktop/portal/desktop/session/" + sender + "/" + token
}

func (c *Client) RequestPath(token string) string { return RequestPath(c.sender, token) }
func (c *Client) SessionPath(token string) string { return SessionPath(c.sender, token) }

// Subscribe registers for the Response signal on path.
func (c *Client) Subscribe(path string) (session.Subscription, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(dbus.ObjectPath(path)),
		dbus.WithMatchInterface(RequestInterface),
		dbus.WithMatchMember(responseMember),
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("add match for %s: %w", path, err)
	}
	sub := &subscription{
		conn:    c.conn,
		path:    dbus.ObjectPath(path),
		opts:    opts,
		signals: make(chan *dbus.Signal, 8),
		log:     c.log,
	}
	c.conn.Signal(sub.signals)
	return sub, nil
}

func (c *Client) CreateSession(handleToken, sessionToken string) (string, error) {
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(handleToken),
		"session_handle_token": dbus.MakeVariant(sessionToken),
	}
	return c.request("CreateSession", options)
}

func (c *Client) SelectDevices(sessionPath, handleToken string, types uint32) (string, error) {
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(handleToken),
		"types":        dbus.MakeVariant(types),
	}
	return c.request("SelectDevices", dbus.ObjectPath(sessionPath), options)
}

func (c *Client) Start(sessionPath, handleToken string) (string, error) {
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(handleToken),
	}
	return c.request("Start", dbus.ObjectPath(sessionPath), "", options)
}

func (c *Client) request(method string, args ...any) (string, error) {
	var handle dbus.ObjectPath
	if err := c.portal.Call(RemoteDesktop+"."+method, 0, args...).Store(&handle); err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	c.log.Debug("portal request", "method", method, "handle", handle)
	return string(handle), nil
}

// ConnectToEIS returns the socket of the session's input channel.
func (c *Client) ConnectToEIS(sessionPath string) (int, error) {
	var fd dbus.UnixFD
	call := c.portal.Call(RemoteDesktop+".ConnectToEIS", 0, dbus.ObjectPath(sessionPath), map[string]dbus.Variant{})
	if err := call.Store(&fd); err != nil {
		return -1, fmt.Errorf("ConnectToEIS: %w", err)
	}
	if fd < 0 {
		return -1, fmt.Errorf("ConnectToEIS: invalid descriptor %d", fd)
	}
	return int(fd), nil
}

// CloseSession ends the portal session.
func (c *Client) CloseSession(sessionPath string) error {
	obj := c.conn.Object(BusName, dbus.ObjectPath(sessionPath))
	if err := obj.Call(SessionInterface+".Close", 0).Err; err != nil {
		return fmt.Errorf("close session %s: %w", sessionPath, err)
	}
	return nil
}

// Close closes the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type subscription struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	opts    []dbus.MatchOption
	signals chan *dbus.Signal
	log     *logging.Logger
}

// Next waits for the Response signal on the subscribed path. Signals for
// other paths share the channel and are skipped.
func (s *subscription) Next(timeout time.Duration) (session.Response, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case sig, ok := <-s.signals:
			if !ok {
				return session.Response{}, false
			}
			if resp, ok := ParseResponse(sig, s.path); ok {
				return resp, true
			}
		case <-timer.C:
			return session.Response{}, false
		}
	}
}

func (s *subscription) Close() {
	s.conn.RemoveSignal(s.signals)
	if err := s.conn.RemoveMatchSignal(s.opts...); err != nil {
		s.log.Debug("remove match", "path", s.path, "error", err)
	}
}

// ParseResponse decodes a Request.Response signal addressed to path.
func ParseResponse(sig *dbus.Signal, path dbus.ObjectPath) (session.Response, bool) {
	if sig == nil || sig.Path != path || sig.Name != RequestInterface+"."+responseMember {
		return session.Response{}, false
	}
	if len(sig.Body) < 1 {
		return session.Response{}, false
	}
	code, ok := sig.Body[0].(uint32)
	if !ok {
		return session.Response{}, false
	}
	resp := session.Response{Code: code}
	if len(sig.Body) > 1 {
		if results, ok := sig.Body[1].(map[string]dbus.Variant); ok {
			resp.Results = Results(results)
		}
	}
	return resp, true
}

// Results unwraps variant values. Object paths become plain strings.
func Results(in map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.Value().(type) {
		case dbus.ObjectPath:
			out[k] = string(val)
		default:
			out[k] = val
		}
	}
	return out
}

// Available reports whether the portal exposes RemoteDesktop on the session
// bus and which version it speaks.
func Available() (uint32, bool) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return 0, false
	}
	defer conn.Close()
	v, err := conn.Object(BusName, ObjectPath).GetProperty(RemoteDesktop + ".version")
	if err != nil {
		return 0, false
	}
	version, ok := v.Value().(uint32)
	return version, ok
}
