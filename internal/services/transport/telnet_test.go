package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/gocmdexec/internal/charset"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeTelnetConn hands out one queued chunk per Read and times out when the
// queue is empty, unless eof is set.
type fakeTelnetConn struct {
	chunks  []string
	eof     bool
	readErr error
	written []string
	closed  int
}

func (c *fakeTelnetConn) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		if c.eof {
			return 0, io.EOF
		}
		return 0, timeoutError{}
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func (c *fakeTelnetConn) Write(p []byte) (int, error) {
	c.written = append(c.written, string(p))
	return len(p), nil
}

func (c *fakeTelnetConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeTelnetConn) Close() error {
	c.closed++
	return nil
}

type mockTelnetDialer struct {
	dialFunc func(addr string, timeout time.Duration) (TelnetConn, error)
}

func (m *mockTelnetDialer) Dial(addr string, timeout time.Duration) (TelnetConn, error) {
	return m.dialFunc(addr, timeout)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testOptions() Options {
	return Options{LoginTimeout: 100 * time.Millisecond, ReadWait: time.Millisecond}
}

func connectedTelnet(t *testing.T, conn *fakeTelnetConn) *Telnet {
	t.Helper()
	dialer := &mockTelnetDialer{dialFunc: func(string, time.Duration) (TelnetConn, error) {
		return conn, nil
	}}
	tr := NewTelnetWithDialer(testLogger(), testOptions(), charset.MustNew(), dialer)
	require.NoError(t, tr.Connect(context.Background(), telnetSpec()))
	return tr
}

func telnetSpec() models.ConnectionSpec {
	return models.ConnectionSpec{
		Host:           "10.0.0.1",
		Port:           23,
		Username:       "admin",
		Password:       "secret",
		ConnectTimeout: 2 * time.Second,
	}
}

func collect(out *strings.Builder) func(string) error {
	return func(s string) error {
		out.WriteString(s)
		return nil
	}
}

func TestTelnetConnect_DialsAddress(t *testing.T) {
	var gotAddr string
	var gotTimeout time.Duration
	dialer := &mockTelnetDialer{dialFunc: func(addr string, timeout time.Duration) (TelnetConn, error) {
		gotAddr, gotTimeout = addr, timeout
		return &fakeTelnetConn{}, nil
	}}

	tr := NewTelnetWithDialer(testLogger(), testOptions(), charset.MustNew(), dialer)
	require.NoError(t, tr.Connect(context.Background(), telnetSpec()))

	assert.Equal(t, "10.0.0.1:23", gotAddr)
	assert.Equal(t, 2*time.Second, gotTimeout)
	assert.False(t, tr.Closed())
}

func TestTelnetConnect_DialError(t *testing.T) {
	dialer := &mockTelnetDialer{dialFunc: func(string, time.Duration) (TelnetConn, error) {
		return nil, errors.New("connection refused")
	}}

	tr := NewTelnetWithDialer(testLogger(), testOptions(), charset.MustNew(), dialer)
	err := tr.Connect(context.Background(), telnetSpec())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTelnetConnect_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	dialer := &mockTelnetDialer{dialFunc: func(string, time.Duration) (TelnetConn, error) {
		<-release
		return &fakeTelnetConn{}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTelnetWithDialer(testLogger(), testOptions(), charset.MustNew(), dialer)
	err := tr.Connect(ctx, telnetSpec())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestTelnetLogin_UsernameAndPassword(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{
		"\r\nUser Access Verification\r\n\r\nUsername: ",
		"admin\r\nPassword: ",
		"\r\n",
		"router>",
	}}
	tr := connectedTelnet(t, conn)

	var echoed strings.Builder
	err := tr.Login(context.Background(), telnetSpec(), collect(&echoed))

	require.NoError(t, err)
	assert.Equal(t, []string{"admin\n", "secret\n"}, conn.written)
	assert.Contains(t, echoed.String(), "Username: ")
	assert.Contains(t, echoed.String(), "Password: ")
	assert.True(t, strings.HasSuffix(echoed.String(), "router>"))
	assert.NotContains(t, echoed.String(), "secret")
}

func TestTelnetLogin_RejectedPassword(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{
		"Username: ",
		"Password: ",
		"\r\n% Login invalid\r\n\r\nUsername: ",
	}}
	tr := connectedTelnet(t, conn)

	err := tr.Login(context.Background(), telnetSpec(), func(string) error { return nil })

	var loginErr *models.LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "10.0.0.1", loginErr.Host)
}

func TestTelnetLogin_NoUsernamePrompt(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{"Welcome\r\n"}}
	tr := connectedTelnet(t, conn)

	err := tr.Login(context.Background(), telnetSpec(), func(string) error { return nil })

	var loginErr *models.LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.ErrorIs(t, err, errLoginTimeout)
	assert.Empty(t, conn.written)
}

func TestTelnetLogin_ClosedDuringLogin(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{"Username: ", "Password: "}, eof: true}
	tr := connectedTelnet(t, conn)

	err := tr.Login(context.Background(), telnetSpec(), func(string) error { return nil })

	var loginErr *models.LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.True(t, tr.Closed())
}

func TestTelnetLogin_BannerOnly(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{"Welcome to the lab\r\n"}}
	tr := connectedTelnet(t, conn)
	spec := telnetSpec()
	spec.Username, spec.Password = "", ""

	var echoed strings.Builder
	err := tr.Login(context.Background(), spec, collect(&echoed))

	require.NoError(t, err)
	assert.Equal(t, "Welcome to the lab\r\n", echoed.String())
	assert.Empty(t, conn.written)
}

func TestTelnetLogin_PasswordOnly(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{"Password: ", "\r\nswitch#"}}
	tr := connectedTelnet(t, conn)
	spec := telnetSpec()
	spec.Username = ""

	err := tr.Login(context.Background(), spec, func(string) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, []string{"secret\n"}, conn.written)
}

func TestTelnetLogin_NotConnected(t *testing.T) {
	tr := NewTelnet(testLogger(), testOptions(), charset.MustNew())

	err := tr.Login(context.Background(), telnetSpec(), func(string) error { return nil })

	var loginErr *models.LoginError
	assert.ErrorAs(t, err, &loginErr)
}

func TestTelnetReceive(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{"show version\r\n", "Version 1.0\r\n"}}
	tr := connectedTelnet(t, conn)

	text, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "show version\r\n", text)

	text, err = tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "Version 1.0\r\n", text)

	// Nothing pending is not an error.
	text, err = tr.Receive()
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.False(t, tr.Closed())
}

func TestTelnetReceive_DecodesShiftJIS(t *testing.T) {
	// "続きます" in Shift-JIS
	conn := &fakeTelnetConn{chunks: []string{"\x91\xb1\x82\xab\x82\xdc\x82\xb7"}}
	tr := connectedTelnet(t, conn)

	text, err := tr.Receive()

	require.NoError(t, err)
	assert.Equal(t, "続きます", text)
}

func TestTelnetReceive_EOF(t *testing.T) {
	conn := &fakeTelnetConn{chunks: []string{"bye\r\n"}, eof: true}
	tr := connectedTelnet(t, conn)

	text, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "bye\r\n", text)
	assert.False(t, tr.Closed())

	text, err = tr.Receive()
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.True(t, tr.Closed())
}

func TestTelnetReceive_ReadError(t *testing.T) {
	conn := &fakeTelnetConn{readErr: errors.New("connection reset by peer")}
	tr := connectedTelnet(t, conn)

	_, err := tr.Receive()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, tr.Closed())
}

func TestTelnetSend(t *testing.T) {
	conn := &fakeTelnetConn{}
	tr := connectedTelnet(t, conn)

	require.NoError(t, tr.Send("show version\n"))
	assert.Equal(t, []string{"show version\n"}, conn.written)
}

func TestTelnetSend_NotConnected(t *testing.T) {
	tr := NewTelnet(testLogger(), testOptions(), charset.MustNew())
	assert.Error(t, tr.Send("x\n"))
}

func TestTelnetClose_Idempotent(t *testing.T) {
	conn := &fakeTelnetConn{}
	tr := connectedTelnet(t, conn)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.Equal(t, 1, conn.closed)
	assert.True(t, tr.Closed())
}

func TestDefaultFactory(t *testing.T) {
	f := &DefaultFactory{Logger: testLogger()}

	tr, err := f.New(models.ProtocolTelnet)
	require.NoError(t, err)
	assert.IsType(t, &Telnet{}, tr)

	tr, err = f.New(models.ProtocolSSH)
	require.NoError(t, err)
	assert.IsType(t, &SSH{}, tr)

	_, err = f.New(models.Protocol("rlogin"))
	assert.Error(t, err)
}

func TestDefaultFactory_UnknownEncoding(t *testing.T) {
	f := &DefaultFactory{Logger: testLogger(), Options: Options{Encodings: []string{"klingon"}}}

	_, err := f.New(models.ProtocolTelnet)

	assert.Error(t, err)
}
