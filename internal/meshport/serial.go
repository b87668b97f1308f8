package meshport

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// SerialPort is the concrete Port adapter for a USB-attached Meshtastic-class
// radio exposing a text serial console. It is the only file in this module
// that imports the device library; every other component depends solely on
// the Port interface.
type SerialPort struct {
	local NodeID
	port  serial.Port
	r     *bufio.Scanner

	in     chan Inbound
	closed chan struct{}
	once   sync.Once

	log *slog.Logger
}

// OpenSerialPort opens dev at baud and starts a background reader that
// parses newline-delimited "<origin>\t<snr>\t<rssi>\t<hops>\t<payload>"
// records into Inbound frames. The wire framing of the payload itself
// (codec.Frame) is opaque to this adapter.
func OpenSerialPort(local NodeID, dev string, baud int) (*SerialPort, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(dev, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFatal, dev, err)
	}
	sp := &SerialPort{
		local:  local,
		port:   p,
		r:      bufio.NewScanner(p),
		in:     make(chan Inbound, 64),
		closed: make(chan struct{}),
		log:    slog.Default().With("component", "meshport.serial", "dev", dev),
	}
	go sp.readLoop()
	return sp, nil
}

func (s *SerialPort) LocalID() NodeID { return s.local }

func (s *SerialPort) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.port.Close()
	})
}

func (s *SerialPort) Recv(ctx context.Context) (Inbound, bool) {
	select {
	case <-ctx.Done():
		return Inbound{}, false
	case <-s.closed:
		return Inbound{}, false
	case in, ok := <-s.in:
		return in, ok
	}
}

// Send writes frame to dest as one newline-terminated console line. A write
// error on a live serial handle is treated as transient: the device may
// simply be mid-transmit on a duty-cycle-limited radio.
func (s *SerialPort) Send(ctx context.Context, dest NodeID, frame []byte) error {
	select {
	case <-s.closed:
		return ErrFatal
	default:
	}
	line := fmt.Sprintf("%s\t%s\n", dest, frame)
	if _, err := s.port.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (s *SerialPort) readLoop() {
	defer close(s.in)
	for s.r.Scan() {
		line := s.r.Text()
		in, ok := parseSerialLine(line)
		if !ok {
			s.log.Warn("unparseable serial line", "line", line)
			continue
		}
		select {
		case s.in <- in:
		case <-s.closed:
			return
		}
	}
}

func parseSerialLine(line string) (Inbound, bool) {
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) != 5 {
		return Inbound{}, false
	}
	var snr float64
	var rssi, hops int
	if _, err := fmt.Sscanf(parts[1], "%f", &snr); err != nil {
		return Inbound{}, false
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &rssi); err != nil {
		return Inbound{}, false
	}
	if _, err := fmt.Sscanf(parts[3], "%d", &hops); err != nil {
		return Inbound{}, false
	}
	return Inbound{
		Origin: NodeID(parts[0]),
		Frame:  []byte(parts[4]),
		Link:   Link{SNR: snr, RSSI: rssi, HopCount: hops},
	}, true
}
