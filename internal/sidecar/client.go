package sidecar

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var ErrNotFound = errors.New("image not found")

type Config struct {
	Addr    string
	Timeout time.Duration
}

// Client is the reference Go client for the transfer port: one connection per
// transfer, upload half-closed to mark the end of the body. Tools and tests that
// push or fetch product images use it.
type Client struct {
	dialer net.Dialer
	config Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{dialer: net.Dialer{Timeout: cfg.Timeout}, config: cfg}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.config.Timeout))
	}
	return conn, nil
}

// Upload stores body under name.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, UploadPrefix+name+"\n"); err != nil {
		return err
	}
	if _, err := io.Copy(conn, body); err != nil {
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return err
		}
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read upload reply: %w", err)
	}
	if reply = strings.TrimSpace(reply); reply != UploadSuccess {
		return fmt.Errorf("upload of %s rejected: %s", name, reply)
	}
	return nil
}

// Download copies the blob into w and returns its size, or ErrNotFound.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, name+"\n"); err != nil {
		return 0, err
	}
	var size int64
	if err := binary.Read(conn, binary.BigEndian, &size); err != nil {
		return 0, fmt.Errorf("failed to read length: %w", err)
	}
	if size <= 0 {
		return 0, ErrNotFound
	}
	n, err := io.CopyN(w, conn, size)
	if err != nil {
		return n, fmt.Errorf("short download of %s: %w", name, err)
	}
	return n, nil
}
