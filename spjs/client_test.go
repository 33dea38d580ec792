package spjs

import (
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers list requests and records everything else.
type fakeServer struct {
	mx    sync.Mutex
	ports []SerialPort
	conn  net.Conn
	recv  []string
	dials int

	out chan string
}

func newFakeServer(ports ...SerialPort) *fakeServer {
	return &fakeServer{ports: ports}
}

func (s *fakeServer) dial(string) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	out := make(chan string, 100)
	s.mx.Lock()
	s.conn = server
	s.out = out
	s.dials++
	s.mx.Unlock()

	go func() {
		for msg := range out {
			_, err := io.WriteString(server, msg)
			if err != nil {
				return
			}
		}
	}()
	go s.serve(server, out)
	return client, nil
}

// send queues a message on the current connection.
func (s *fakeServer) send(msg string) {
	s.mx.Lock()
	out := s.out
	s.mx.Unlock()
	out <- msg
}

func (s *fakeServer) serve(conn net.Conn, out chan string) {
	buf := make([]byte, 65536)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		msg := string(buf[:n])
		s.mx.Lock()
		s.recv = append(s.recv, msg)
		ports := s.ports
		s.mx.Unlock()

		if msg == "list" {
			data, _ := json.Marshal(SPJSData{SerialPorts: ports})
			out <- string(data)
		}
	}
}

func (s *fakeServer) received(prefix string) []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	var res []string
	for _, msg := range s.recv {
		if strings.HasPrefix(msg, prefix) {
			res = append(res, msg)
		}
	}
	return res
}

func (s *fakeServer) setPorts(ports ...SerialPort) {
	s.mx.Lock()
	s.ports = ports
	s.mx.Unlock()
}

func newTestClient(t *testing.T, srv *fakeServer) *Client {
	cli := NewClient("ws://spjs.test/ws", Options{
		Dial:          srv.dial,
		ListInterval:  time.Hour,
		CheckInterval: time.Hour,
	})
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestPort_OpenAndSend(t *testing.T) {
	srv := newFakeServer(
		SerialPort{Name: "/dev/ttyACM0", VID: "2341", PID: "0043"},
		SerialPort{Name: "/dev/ttyUSB0", VID: "1a86", PID: "7523"},
	)
	cli := newTestClient(t, srv)

	port := cli.NewPort(MatchVIDPID("1A86", "7523"), PortOptions{BaudRate: 115200})

	assert.Eventually(t, func() bool {
		return len(srv.received("open ")) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, "open /dev/ttyUSB0 115200 default", srv.received("open ")[0])

	srv.setPorts(SerialPort{Name: "/dev/ttyUSB0", VID: "1a86", PID: "7523", IsOpen: true})
	_, err := io.WriteString(cli, "list")
	require.NoError(t, err)
	assert.Eventually(t, port.Connected, time.Second, time.Millisecond)

	n, err := port.Write([]byte("G0 X1\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	assert.Eventually(t, func() bool {
		return len(srv.received("sendjson ")) == 1
	}, time.Second, time.Millisecond)
	var req SendJSON
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(srv.received("sendjson ")[0], "sendjson ")), &req))
	assert.Equal(t, "/dev/ttyUSB0", req.Port)
	require.Len(t, req.Data, 1)
	assert.Equal(t, "G0 X1\n", req.Data[0].Data)
	assert.NotEmpty(t, req.Data[0].ID)
}

func TestPort_ReceiveData(t *testing.T) {
	srv := newFakeServer(SerialPort{Name: "/dev/ttyUSB0", VID: "1a86", PID: "7523", IsOpen: true})
	cli := newTestClient(t, srv)

	port := cli.NewPort(MatchName("/dev/ttyUSB0"), PortOptions{BaudRate: 115200})
	notified := make(chan struct{}, 10)
	port.SetNotify(func() { notified <- struct{}{} })
	assert.Eventually(t, port.Connected, time.Second, time.Millisecond)

	srv.send(`{"P":"/dev/ttyUSB0","D":"ok"}`)
	srv.send(`{"P":"/dev/ttyUSB1","D":"ignored"}`)
	srv.send(`{"P":"/dev/ttyUSB0","D":"error:20\n"}`)
	srv.send(`not json`)
	srv.send(`{"Cmd":"Error","Id":"x","ErrorCode":"boom"}`)

	var got string
	assert.Eventually(t, func() bool {
		data, err := port.ReadAvailable()
		require.NoError(t, err)
		got += string(data)
		return got == "ok\nerror:20\n"
	}, time.Second, time.Millisecond)
	assert.NotEmpty(t, notified)
}

func TestPort_Unavailable(t *testing.T) {
	srv := newFakeServer()
	cli := newTestClient(t, srv)

	port := cli.NewPort(MatchVIDPID("1a86", "7523"), PortOptions{BaudRate: 115200})
	_, err := port.Write([]byte("?"))
	assert.ErrorIs(t, err, ErrPortUnavailable)
	assert.False(t, port.Connected())

	require.NoError(t, port.Close())
	cli.updatePorts([]SerialPort{{Name: "/dev/ttyUSB0", VID: "1a86", PID: "7523"}})
	assert.Empty(t, srv.received("open "))
}

func TestClient_Reconnect(t *testing.T) {
	srv := newFakeServer(SerialPort{Name: "/dev/ttyUSB0", IsOpen: true})
	cli := newTestClient(t, srv)

	require.NoError(t, cli.Check())
	assert.Eventually(t, func() bool { return len(cli.SerialPorts()) == 1 }, time.Second, time.Millisecond)

	srv.mx.Lock()
	srv.conn.Close()
	srv.mx.Unlock()

	assert.Eventually(t, func() bool { return len(cli.SerialPorts()) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, cli.Check())
	assert.Eventually(t, func() bool { return len(cli.SerialPorts()) == 1 }, time.Second, time.Millisecond)
	srv.mx.Lock()
	assert.Equal(t, 2, srv.dials)
	srv.mx.Unlock()

	require.NoError(t, cli.Close())
	assert.ErrorIs(t, cli.Check(), ErrClosed)
}
