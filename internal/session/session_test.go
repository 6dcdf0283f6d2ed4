package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, ErrTimeout},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ErrUnreachable},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope"}, ErrUnreachable},
		{"auth", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"), ErrAuth},
		{"already classified", fmt.Errorf("%w: prompt", ErrTimeout), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want class %v", tt.err, got, tt.want)
			}
		})
	}

	plain := errors.New("something else")
	if got := Classify(plain); got != plain {
		t.Errorf("unknown errors should pass through, got %v", got)
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestClassify_KeepsCause(t *testing.T) {
	cause := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	got := Classify(cause)

	var opErr *net.OpError
	if !errors.As(got, &opErr) {
		t.Error("classified error should still unwrap to the cause")
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("cisco_ios") {
		t.Error("cisco_ios should be supported")
	}
	if IsSupported("toaster") {
		t.Error("toaster should not be supported")
	}
}

// startTestServer runs an SSH server that answers exec requests with handler.
func startTestServer(t *testing.T, password string, handler func(cmd string) (string, time.Duration)) (string, int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handler)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handler func(string) (string, time.Duration)) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				ssh.Unmarshal(req.Payload, &payload)
				req.Reply(true, nil)

				out, delay := handler(payload.Command)
				time.Sleep(delay)
				ch.Write([]byte(out))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			}
		}()
	}
}

func echoHandler(cmd string) (string, time.Duration) {
	if cmd == "slow" {
		return "late\n", 2 * time.Second
	}
	return "output of " + cmd + "\nrouter#\n", 0
}

func TestSSHProvider_Run(t *testing.T) {
	host, port := startTestServer(t, "secret", echoHandler)
	p := &SSHProvider{DialTimeout: 2 * time.Second, CommandTimeout: time.Second}

	sess, err := p.Open(context.Background(), Target{
		Address:     host,
		Port:        port,
		Credentials: Credentials{Username: "admin", Password: "secret"},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	out, err := sess.Run(context.Background(), "show clock", `router#`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "output of show clock") {
		t.Errorf("output = %q", out)
	}

	transcript := sess.Transcript()
	if !strings.Contains(transcript, "> show clock") || !strings.Contains(transcript, "output of show clock") {
		t.Errorf("transcript = %q, want command and output", transcript)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	// Closing twice is harmless.
	sess.Close()
}

func TestSSHProvider_ExpectNotFound(t *testing.T) {
	host, port := startTestServer(t, "secret", echoHandler)
	p := &SSHProvider{DialTimeout: 2 * time.Second}

	sess, err := p.Open(context.Background(), Target{
		Address: host, Port: port,
		Credentials: Credentials{Username: "admin", Password: "secret"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	_, err = sess.Run(context.Background(), "show clock", `switch>`)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestSSHProvider_BadPassword(t *testing.T) {
	host, port := startTestServer(t, "secret", echoHandler)
	p := &SSHProvider{DialTimeout: 2 * time.Second}

	_, err := p.Open(context.Background(), Target{
		Address: host, Port: port,
		Credentials: Credentials{Username: "admin", Password: "wrong"},
	})
	if !errors.Is(err, ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
}

func TestSSHProvider_CommandTimeout(t *testing.T) {
	host, port := startTestServer(t, "secret", echoHandler)
	p := &SSHProvider{DialTimeout: 2 * time.Second, CommandTimeout: 100 * time.Millisecond}

	sess, err := p.Open(context.Background(), Target{
		Address: host, Port: port,
		Credentials: Credentials{Username: "admin", Password: "secret"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	_, err = sess.Run(context.Background(), "slow", "")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if !strings.Contains(sess.Transcript(), "timed out") {
		t.Errorf("transcript should note the timeout: %q", sess.Transcript())
	}
}

func TestSSHProvider_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	p := &SSHProvider{DialTimeout: time.Second}
	_, err = p.Open(context.Background(), Target{Address: "127.0.0.1", Port: port})
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}
