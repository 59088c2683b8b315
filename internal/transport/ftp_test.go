package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
)

type fakeServer struct {
	dirs     map[string][]Entry
	files    map[string]string
	retrErrs []error
	dials    int
	retrs    int
}

type fakeConn struct {
	srv *fakeServer
}

func (c *fakeConn) List(dir string) ([]Entry, error) {
	entries, ok := c.srv.dirs[dir]
	if !ok {
		return nil, &textproto.Error{Code: 550, Msg: "no such directory"}
	}
	return entries, nil
}

func (c *fakeConn) Retr(file string) (io.ReadCloser, error) {
	c.srv.retrs++
	if len(c.srv.retrErrs) > 0 {
		err := c.srv.retrErrs[0]
		c.srv.retrErrs = c.srv.retrErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	content, ok := c.srv.files[file]
	if !ok {
		return nil, &textproto.Error{Code: 550, Msg: "file unavailable"}
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (c *fakeConn) Quit() error { return nil }

func (s *fakeServer) dialer() Dialer {
	return func(ctx context.Context) (Conn, error) {
		s.dials++
		return &fakeConn{srv: s}, nil
	}
}

func TestClient_List(t *testing.T) {
	srv := &fakeServer{dirs: map[string][]Entry{
		"/nas": {
			{Name: "b.JPG", Type: EntryFile},
			{Name: ".hidden.jpg", Type: EntryFile},
			{Name: ".trash", Type: EntryFolder},
			{Name: "에피소드1", Type: EntryFolder},
			{Name: "notes.txt", Type: EntryFile},
			{Name: "a.png", Type: EntryFile},
		},
		"/nas/에피소드1": {
			{Name: "u_000109.jpg", Type: EntryFile},
			{Name: "deeper", Type: EntryFolder},
		},
		"/nas/에피소드1/deeper": {
			{Name: "c.jpeg", Type: EntryFile},
		},
		"/nas/.trash": {
			{Name: "x.jpg", Type: EntryFile},
		},
	}}

	t.Run("recursive with extension filter keeps listing order", func(t *testing.T) {
		c := NewClient(srv.dialer(), memfs.New())
		defer c.Close()
		got, err := c.List(context.Background(), "/nas", []string{".jpg", "jpeg"}, true)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"b.JPG", "에피소드1/u_000109.jpg", "에피소드1/deeper/c.jpeg"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}
	})

	t.Run("non recursive", func(t *testing.T) {
		c := NewClient(srv.dialer(), memfs.New())
		got, err := c.List(context.Background(), "/nas", nil, false)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"b.JPG", "notes.txt", "a.png"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}
	})

	t.Run("depth limit", func(t *testing.T) {
		c := NewClient(srv.dialer(), memfs.New())
		c.MaxDepth = 1
		got, err := c.List(context.Background(), "/nas", []string{".jpg", ".jpeg"}, true)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"b.JPG"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}

		c.MaxDepth = 2
		got, err = c.List(context.Background(), "/nas", []string{".jpg", ".jpeg"}, true)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want = []string{"b.JPG", "에피소드1/u_000109.jpg"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}
	})
}

func TestClient_Download(t *testing.T) {
	const remote = "/nas/ep/a.jpg"

	t.Run("reconnects on connection errors", func(t *testing.T) {
		srv := &fakeServer{
			files:    map[string]string{remote: "image-bytes"},
			retrErrs: []error{syscall.EPIPE, fmt.Errorf("read: %w", syscall.ECONNRESET)},
		}
		fs := memfs.New()
		c := NewClient(srv.dialer(), fs)
		name, err := c.Download(context.Background(), "/nas", "ep/a.jpg")
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if srv.retrs != 3 || srv.dials != 3 {
			t.Errorf("retrs = %d, dials = %d; want 3 and 3", srv.retrs, srv.dials)
		}
		f, err := fs.Open(name)
		if err != nil {
			t.Fatalf("open staged file: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "image-bytes" {
			t.Errorf("content = %q", data)
		}
		if !strings.HasSuffix(name, "_a.jpg") {
			t.Errorf("name = %q", name)
		}
	})

	t.Run("gives up after three connection errors", func(t *testing.T) {
		srv := &fakeServer{
			files:    map[string]string{remote: "x"},
			retrErrs: []error{syscall.EPIPE, syscall.EPIPE, syscall.EPIPE, nil},
		}
		c := NewClient(srv.dialer(), memfs.New())
		_, err := c.Download(context.Background(), "/nas", "ep/a.jpg")
		var dlErr *DownloadError
		if !errors.As(err, &dlErr) {
			t.Fatalf("Download() error = %v, want *DownloadError", err)
		}
		if dlErr.Attempts != 3 || srv.retrs != 3 {
			t.Errorf("attempts = %d, retrs = %d; want 3", dlErr.Attempts, srv.retrs)
		}
	})

	t.Run("other errors are not retried and leave nothing behind", func(t *testing.T) {
		srv := &fakeServer{files: map[string]string{}}
		fs := &recordingFS{Filesystem: memfs.New()}
		c := NewClient(srv.dialer(), fs)
		_, err := c.Download(context.Background(), "/nas", "ep/missing.jpg")
		if err == nil {
			t.Fatal("expected an error")
		}
		if srv.retrs != 1 {
			t.Errorf("retrs = %d, want 1", srv.retrs)
		}
		for _, name := range fs.created {
			if _, err := fs.Stat(name); err == nil {
				t.Errorf("%s left in staging", name)
			}
		}
		if len(fs.created) != 1 {
			t.Errorf("created = %v, want one temporary file", fs.created)
		}
	})
}

type recordingFS struct {
	billy.Filesystem
	created []string
}

func (r *recordingFS) Create(name string) (billy.File, error) {
	r.created = append(r.created, name)
	return r.Filesystem.Create(name)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{syscall.EPIPE, true},
		{fmt.Errorf("wrapped: %w", syscall.ECONNRESET), true},
		{&textproto.Error{Code: 421, Msg: "Service not available"}, true},
		{&textproto.Error{Code: 550, Msg: "File unavailable"}, false},
		{errors.New("Connection refused by peer"), true},
		{errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		if got := IsConnectionError(tt.err); got != tt.want {
			t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
