// Command sliderctl sends text protocol requests to a running slidego
// daemon over UDP and prints the replies.
//
//	sliderctl '?Pos' 'Pos=120'
//	echo 'Mode=Manual "Feedrate=300"' | sliderctl
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/shlex"

	"github.com/cjeanneret/SlideGo/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:65435", "slider UDP address")
	timeout := flag.Duration("timeout", 2*time.Second, "reply timeout per request")
	flag.Parse()

	c, err := dial(*addr, *timeout)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer c.Close()

	requests := flag.Args()
	if len(requests) == 0 {
		if err := c.batch(os.Stdin, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}
	for _, req := range requests {
		if err := c.send(req, os.Stdout); err != nil {
			log.Fatal(err)
		}
	}
}

// client exchanges one datagram per request.
type client struct {
	conn    net.Conn
	timeout time.Duration
	buf     []byte
}

func dial(addr string, timeout time.Duration) (*client, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, timeout: timeout, buf: make([]byte, 512)}, nil
}

func (c *client) Close() error { return c.conn.Close() }

// exchange sends req and waits for its reply.
func (c *client) exchange(req string) (string, error) {
	if len(req) > protocol.MaxRequestLen {
		return "", fmt.Errorf("request %q longer than %d bytes", req, protocol.MaxRequestLen)
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	if _, err := c.conn.Write([]byte(req)); err != nil {
		return "", fmt.Errorf("send %q: %w", req, err)
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return "", fmt.Errorf("reply to %q: %w", req, err)
	}
	return string(c.buf[:n]), nil
}

func (c *client) send(req string, w io.Writer) error {
	reply, err := c.exchange(req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, reply)
	return err
}

// batch reads r line by line; every shell-like token is one request.
// Lines starting with # are skipped by the tokenizer.
func (c *client) batch(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		requests, err := tokenize(sc.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		for _, req := range requests {
			if err := c.send(req, w); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
		}
	}
	return sc.Err()
}

func tokenize(line string) ([]string, error) {
	return shlex.Split(line)
}
