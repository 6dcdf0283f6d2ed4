package session

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHProvider opens sessions over SSH with password authentication.
// Each command runs on its own exec channel of one client connection.
type SSHProvider struct {
	Port           int
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// KnownHosts is an OpenSSH known_hosts file. Host keys are not checked when empty.
	KnownHosts string

	once     sync.Once
	hostKeys ssh.HostKeyCallback
	keysErr  error
}

// Open dials the target and completes the SSH handshake.
func (p *SSHProvider) Open(ctx context.Context, target Target) (Session, error) {
	hostKeys, err := p.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	port := target.Port
	if port == 0 {
		port = p.Port
	}
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Address, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: p.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, Classify(err)
	}

	if p.DialTimeout > 0 {
		conn.SetDeadline(time.Now().Add(p.DialTimeout))
	}
	cfg := &ssh.ClientConfig{
		User: target.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Credentials.Password),
			ssh.KeyboardInteractive(answerPassword(target.Credentials.Password)),
		},
		HostKeyCallback: hostKeys,
		Timeout:         p.DialTimeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, Classify(err)
	}
	conn.SetDeadline(time.Time{})

	s := &sshSession{
		client:  ssh.NewClient(c, chans, reqs),
		timeout: p.CommandTimeout,
	}
	fmt.Fprintf(&s.transcript, "# connected to %s as %s\n", addr, target.Credentials.Username)
	return s, nil
}

func (p *SSHProvider) hostKeyCallback() (ssh.HostKeyCallback, error) {
	p.once.Do(func() {
		if p.KnownHosts == "" {
			p.hostKeys = ssh.InsecureIgnoreHostKey()
			return
		}
		p.hostKeys, p.keysErr = knownhosts.New(p.KnownHosts)
		if p.keysErr != nil {
			p.keysErr = fmt.Errorf("loading known hosts: %w", p.keysErr)
		}
	})
	return p.hostKeys, p.keysErr
}

// answerPassword answers every keyboard-interactive question with the password,
// which is what most network operating systems ask for.
func answerPassword(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

type sshSession struct {
	client     *ssh.Client
	timeout    time.Duration
	transcript strings.Builder
	closeOnce  sync.Once
	closeErr   error
}

type runResult struct {
	out []byte
	err error
}

func (s *sshSession) Run(ctx context.Context, command, expect string) (string, error) {
	var pattern *regexp.Regexp
	if expect != "" {
		var err error
		if pattern, err = regexp.Compile(expect); err != nil {
			return "", fmt.Errorf("expect pattern %q: %w", expect, err)
		}
	}

	ch, err := s.client.NewSession()
	if err != nil {
		return "", Classify(err)
	}
	defer ch.Close()

	fmt.Fprintf(&s.transcript, "> %s\n", command)

	done := make(chan runResult, 1)
	go func() {
		out, err := ch.CombinedOutput(command)
		done <- runResult{out: out, err: err}
	}()

	var timer <-chan time.Time
	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case res := <-done:
		out := string(res.out)
		s.transcript.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			s.transcript.WriteString("\n")
		}
		if res.err != nil {
			if _, ok := res.err.(*ssh.ExitError); !ok {
				return out, Classify(res.err)
			}
			// Devices often exit non-zero while still printing useful output.
			fmt.Fprintf(&s.transcript, "# %v\n", res.err)
		}
		if pattern != nil && !pattern.MatchString(out) {
			return out, fmt.Errorf("%w: pattern %q not found in output of %q", ErrTimeout, expect, command)
		}
		return out, nil
	case <-timer:
		fmt.Fprintf(&s.transcript, "# timed out after %s\n", s.timeout)
		return "", fmt.Errorf("%w: %q did not complete within %s", ErrTimeout, command, s.timeout)
	case <-ctx.Done():
		return "", Classify(ctx.Err())
	}
}

func (s *sshSession) Transcript() string {
	return s.transcript.String()
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
