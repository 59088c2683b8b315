package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"
)

const (
	DefaultMaxDepth    = 10
	DefaultMaxAttempts = 3
)

type EntryType int

const (
	EntryFile EntryType = iota
	EntryFolder
	EntryLink
)

// Entry is one parsed line of a directory listing.
type Entry struct {
	Name string
	Type EntryType
	Size uint64
}

// Conn is the subset of an FTP session the client uses.
type Conn interface {
	List(dir string) ([]Entry, error)
	Retr(file string) (io.ReadCloser, error)
	Quit() error
}

// Dialer opens and authenticates a new session.
type Dialer func(ctx context.Context) (Conn, error)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// NewDialer returns a Dialer for a real FTP server. The listing encoding is
// negotiated as UTF-8 when the server advertises it.
func NewDialer(cfg Config) Dialer {
	return func(ctx context.Context) (Conn, error) {
		addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
		c, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(cfg.Timeout))
		if err != nil {
			return nil, fmt.Errorf("while connecting to %s: %w", addr, err)
		}
		if err := c.Login(cfg.User, cfg.Password); err != nil {
			c.Quit()
			return nil, fmt.Errorf("while logging in to %s: %w", addr, err)
		}
		return &serverConn{c}, nil
	}
}

type serverConn struct {
	*ftp.ServerConn
}

func (s *serverConn) List(dir string) ([]Entry, error) {
	entries, err := s.ServerConn.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		entry := Entry{Name: e.Name, Size: e.Size}
		switch e.Type {
		case ftp.EntryTypeFolder:
			entry.Type = EntryFolder
		case ftp.EntryTypeLink:
			entry.Type = EntryLink
		default:
			entry.Type = EntryFile
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *serverConn) Retr(file string) (io.ReadCloser, error) {
	return s.ServerConn.Retr(file)
}

// DownloadError is returned once every download attempt failed.
type DownloadError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Client lists and downloads from one remote session. It is not meant to be
// shared between workers; open one per worker.
type Client struct {
	dial        Dialer
	staging     billy.Filesystem
	MaxDepth    int
	MaxAttempts int

	mu   sync.Mutex
	conn Conn
}

// NewClient returns a client writing downloads into staging.
func NewClient(dial Dialer, staging billy.Filesystem) *Client {
	return &Client{
		dial:        dial,
		staging:     staging,
		MaxDepth:    DefaultMaxDepth,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (c *Client) connect(ctx context.Context) (Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) disconnect() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Quit(); err != nil {
		log.Printf("ftp: while closing session: %s", err)
	}
	c.conn = nil
}

// Close releases the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect()
	return nil
}

// List returns file paths under remoteDir relative to it, in listing order.
// Hidden entries are skipped and at most MaxDepth directory levels are read.
func (c *Client) List(ctx context.Context, remoteDir string, extensions []string, recursive bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := c.walk(ctx, conn, remoteDir, "", 0, extensions, recursive, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) walk(ctx context.Context, conn Conn, root, rel string, depth int, extensions []string, recursive bool, out *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth >= c.MaxDepth {
		log.Printf("ftp: not descending into %s: depth limit %d reached", path.Join(root, rel), c.MaxDepth)
		return nil
	}
	dir := root
	if rel != "" {
		dir = path.Join(root, rel)
	}
	entries, err := conn.List(dir)
	if err != nil {
		return fmt.Errorf("while listing %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := path.Base(entry.Name)
		if name == "." || name == ".." || strings.HasPrefix(name, ".") {
			continue
		}
		childRel := name
		if rel != "" {
			childRel = path.Join(rel, name)
		}
		switch entry.Type {
		case EntryFolder:
			if recursive {
				if err := c.walk(ctx, conn, root, childRel, depth+1, extensions, recursive, out); err != nil {
					return err
				}
			}
		case EntryFile:
			if MatchExtension(name, extensions) {
				*out = append(*out, childRel)
			}
		}
	}
	return nil
}

// MatchExtension reports whether name ends in one of extensions, ignoring case.
// No extensions matches everything.
func MatchExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Download copies remoteDir/relPath into the staging filesystem and returns
// the staged name. Connection-class failures reconnect and retry; any other
// failure returns at once. A name is only returned after a complete write.
func (c *Client) Download(ctx context.Context, remoteDir, relPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remote := path.Join(remoteDir, relPath)
	final := fmt.Sprintf("%s_%s", uuid.NewString(), path.Base(relPath))

	var lastErr error
	attempts := 0
	for attempts < c.MaxAttempts {
		attempts++
		if err := ctx.Err(); err != nil {
			return "", &DownloadError{Path: remote, Attempts: attempts - 1, Err: err}
		}
		err := c.downloadOnce(ctx, remote, final)
		if err == nil {
			return final, nil
		}
		lastErr = err
		if !IsConnectionError(err) {
			break
		}
		log.Printf("ftp: connection error on %s (attempt %d/%d), reconnecting: %s", remote, attempts, c.MaxAttempts, err)
		c.disconnect()
	}
	return "", &DownloadError{Path: remote, Attempts: attempts, Err: lastErr}
}

func (c *Client) downloadOnce(ctx context.Context, remote, final string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	tmp := final + ".part"
	f, err := c.staging.Create(tmp)
	if err != nil {
		return fmt.Errorf("while creating %s: %w", tmp, err)
	}
	err = func() error {
		r, err := conn.Retr(remote)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(f, r)
		closeErr := r.Close()
		return errors.Join(copyErr, closeErr)
	}()
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		c.staging.Remove(tmp)
		return err
	}
	if err := c.staging.Rename(tmp, final); err != nil {
		c.staging.Remove(tmp)
		return fmt.Errorf("while finalizing %s: %w", final, err)
	}
	return nil
}

// IsConnectionError reports whether err means the session is gone.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// 421 service closing, 425 can't open data connection, 426 transfer aborted
		return protoErr.Code == 421 || protoErr.Code == 425 || protoErr.Code == 426
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"broken pipe", "connection", "reset", "timeout", "timed out"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
