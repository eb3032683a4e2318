package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestPipeExchangesFrames(t *testing.T) {
	a, b := Pipe(ConnOptions{})
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.WriteFrame([]byte("ping"))
	}()

	got, err := b.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("got %q, want %q", got, "ping")
	}
	if a.ID() == b.ID() {
		t.Errorf("both ends share ID %s", a.ID())
	}
}

func TestStreamConnCloseIsIdempotent(t *testing.T) {
	a, b := Pipe(ConnOptions{})
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if !a.Closed() {
		t.Error("Closed() = false after Close")
	}

	if _, err := a.ReadFrame(); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadFrame after Close: got %v, want ErrConnectionClosed", err)
	}
	if err := a.WriteFrame([]byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("WriteFrame after Close: got %v, want ErrConnectionClosed", err)
	}
}

func TestStreamConnPeerCloseYieldsEOF(t *testing.T) {
	a, b := Pipe(ConnOptions{})
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := b.ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if !IsEOF(err) {
		t.Errorf("IsEOF(%v) = false", err)
	}
}

func TestPeerCloseSurfacesAsEOF(t *testing.T) {
	a, b := Pipe(ConnOptions{})
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := b.SetReadDeadline(time.Now().Add(time.Second))
	if err == nil {
		t.Fatal("SetReadDeadline succeeded on a pipe whose peer closed")
	}
	if !IsEOF(err) {
		t.Errorf("deadline error %v not treated as end of stream", err)
	}

	err = b.WriteFrame([]byte("late"))
	if !IsEOF(err) {
		t.Errorf("write error %v not treated as end of stream", err)
	}
}

func TestIsEOF(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{io.EOF, true},
		{io.ErrUnexpectedEOF, true},
		{io.ErrClosedPipe, true},
		{ErrFrameTruncated, true},
		{ErrConnectionClosed, true},
		{ErrMessageTooLarge, false},
		{errors.New("other"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsEOF(tt.err); got != tt.want {
			t.Errorf("IsEOF(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStreamConnReadDeadline(t *testing.T) {
	a, b := Pipe(ConnOptions{})
	defer a.Close()
	defer b.Close()

	if err := b.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}

	_, err := b.ReadFrame()
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestCloseUnblocksReader(t *testing.T) {
	a, b := Pipe(ConnOptions{})
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.ReadFrame()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader was not unblocked by Close")
	}
}

func TestListenDial(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", ConnOptions{})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *StreamConn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, ln.Addr().String(), DialConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	var server *StreamConn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	defer server.Close()

	if err := client.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if client.LocalAddr().String() != server.RemoteAddr().String() {
		t.Errorf("address mismatch: client local %s, server remote %s",
			client.LocalAddr(), server.RemoteAddr())
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(context.Background(), addr, DialConfig{ConnectTimeout: time.Second}); err == nil {
		t.Error("expected dial to a closed port to fail")
	}
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", ConnOptions{})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	if err := ln.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("got %v, want net.ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Accept not unblocked")
	}
}
