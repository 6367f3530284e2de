package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/protocol"
)

// serialReadTimeout bounds a blocking read so cancellation is noticed.
const serialReadTimeout = 200 * time.Millisecond

// SerialServer answers protocol lines received on a serial device. Lines
// end with CR, LF or both; replies end with CRLF.
type SerialServer struct {
	cfg     *serial.Config
	handler RequestHandler
	open    func(*serial.Config) (io.ReadWriteCloser, error)
}

// NewSerialServer creates a server for device at the given baud rate.
func NewSerialServer(device string, baud int, h RequestHandler) *SerialServer {
	return &SerialServer{
		cfg: &serial.Config{
			Name:        device,
			Baud:        baud,
			ReadTimeout: serialReadTimeout,
		},
		handler: h,
		open: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// Serve opens the device and answers requests until ctx is cancelled.
func (s *SerialServer) Serve(ctx context.Context) error {
	port, err := s.open(s.cfg)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.cfg.Name, err)
	}
	defer port.Close()
	debug.Info("Serial server on %s at %d baud", s.cfg.Name, s.cfg.Baud)

	// With a read timeout an idle port reads as EOF.
	return serveLines(ctx, port, s.cfg.Name, s.handler, true)
}

// serveLines reads request lines from rw and writes one reply per line.
// Over-long lines are truncated like datagrams. When idleEOF is false,
// EOF ends the stream.
func serveLines(ctx context.Context, rw io.ReadWriter, source string, h RequestHandler, idleEOF bool) error {
	buf := make([]byte, 64)
	line := make([]byte, 0, protocol.MaxRequestLen)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := rw.Read(buf)
		for _, c := range buf[:n] {
			if c != '\r' && c != '\n' {
				if len(line) < protocol.MaxRequestLen {
					line = append(line, c)
				}
				continue
			}
			if len(line) == 0 {
				continue
			}
			reply := h.Handle(source, string(line))
			line = line[:0]
			if _, werr := io.WriteString(rw, reply+"\r\n"); werr != nil {
				return fmt.Errorf("serial reply: %w", werr)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && idleEOF:
		case errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("serial read: %w", err)
		}
	}
}
