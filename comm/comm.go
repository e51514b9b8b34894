/*Package comm provides an embeddable type for line-oriented communication with
lab hardware over a serial port or a TCP serial bridge.

Most usages of this package will boil down to:
	1.  embed *RemoteDevice in a type that represents your hardware.
	2.  set Terminator if the device does not end lines with '\n'.
	3.  write methods on top of SendRecv.

A minimal example for a controller that responds to "POS?" with a number:

	type MyStage struct {
		*comm.RemoteDevice
	}

	func (s *MyStage) Pos() (float64, error) {
		resp, err := s.SendRecv([]byte("POS?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when Conn is nil and Send or Recv is called
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// DefaultTerminator ends every line sent and received
const DefaultTerminator = '\n'

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables needed.
type CreationFunc func() (io.ReadWriteCloser, error)

/*RemoteDevice has an address and can Open, Send, Recv, and Close.

If Maker is not nil it is used to create the connection, otherwise a serial
port (IsSerial) or TCP socket is opened at Addr.

SendRecv is concurrent safe; the lock is held from the write until the
response is read so exchanges never interleave.
*/
type RemoteDevice struct {
	Addr       string
	IsSerial   bool
	Baud       int
	Timeout    time.Duration
	Terminator byte
	Maker      CreationFunc

	// OpenTimeout bounds the total time Open spends retrying
	OpenTimeout time.Duration

	Conn io.ReadWriteCloser

	mu  sync.Mutex
	rdr *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool, baud int) *RemoteDevice {
	return &RemoteDevice{
		Addr:        addr,
		IsSerial:    serial,
		Baud:        baud,
		Timeout:     time.Second,
		Terminator:  DefaultTerminator,
		OpenTimeout: 3 * time.Second,
	}
}

// SerialConf yields a serial config object for use with serial.OpenPort.
// Ports are opened 8N1.
func (rd *RemoteDevice) SerialConf() *serial.Config {
	return &serial.Config{
		Name:        rd.Addr,
		Baud:        rd.Baud,
		ReadTimeout: rd.Timeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
}

// Open the connection, setting the Conn variable.  Failures are retried with
// an exponential backoff; controllers that reset on connect do not like being
// thrashed.
func (rd *RemoteDevice) Open() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	maxElapsed := rd.OpenTimeout
	if maxElapsed <= 0 {
		maxElapsed = 3 * time.Second
	}
	var lastErr error
	op := func() error {
		lastErr = rd.open()
		return lastErr
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, lastErr)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	switch {
	case rd.Maker != nil:
		conn, err = rd.Maker()
	case rd.IsSerial:
		conn, err = serial.OpenPort(rd.SerialConf())
	default:
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.rdr = nil
	}
	return err
}

func (rd *RemoteDevice) term() byte {
	if rd.Terminator == 0 {
		return DefaultTerminator
	}
	return rd.Terminator
}

// Send writes data to the remote with the terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.term())
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv receives one line from the remote and strips the terminator, along
// with a preceding carriage return if there is one
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.term()
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// SendRecv sends a buffer after appending the terminator,
// then returns the response with the terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// TCPSetup opens a new TCP connection with a timeout on connect.  Sweeps hold
// the link for hours, so no read or write deadline is set.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
