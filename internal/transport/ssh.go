package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHCommand bridges the remote serial device to the session's stdio.
// %s is replaced with the quoted device path.
const DefaultSSHCommand = "socat - FILE:%s,raw,echo=0"

// SSHOptions configures the SSH bridge transport.
type SSHOptions struct {
	// Authentication
	User          string `yaml:"user"`
	KeyFile       string `yaml:"key_file"`
	KeyPassphrase string `yaml:"-"`
	Password      string `yaml:"-"`
	Agent         bool   `yaml:"agent"`

	// Host verification
	KnownHostsFile     string `yaml:"known_hosts"`
	InsecureIgnoreHost bool   `yaml:"insecure"`

	// Connection
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"-"`
	KeepAlive      time.Duration `yaml:"-"`

	// Command run on the remote host; %s is the device path.
	Command string `yaml:"command"`
}

// DefaultSSHOptions returns sensible default SSH options.
func DefaultSSHOptions() SSHOptions {
	return SSHOptions{
		Port:           22,
		ConnectTimeout: 30 * time.Second,
		KeepAlive:      30 * time.Second,
		Agent:          true,
		Command:        DefaultSSHCommand,
	}
}

// SSH implements Transport by running a serial bridge command on a remote
// host and exchanging bytes over the session's stdin and stdout. The address
// has the form [ssh://][user@]host[:port]/dev/path[?options].
type SSH struct {
	opts    Options
	host    string
	device  string
	sshOpts SSHOptions
	client  *ssh.Client
	session *ssh.Session
	stream  *stream
	mu      sync.Mutex
}

var _ Transport = (*SSH)(nil)

// NewSSH creates a new SSH bridge transport.
func NewSSH(opts Options) *SSH {
	return &SSH{opts: opts}
}

// Connect opens the SSH connection and starts the bridge command.
func (s *SSH) Connect(ctx context.Context, address string, serve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return ErrAlreadyConnected
	}

	host, device, sshOpts, err := ParseSSHAddress(address, s.opts.SSH)
	if err != nil {
		return err
	}

	config, err := buildSSHConfig(sshOpts)
	if err != nil {
		return fmt.Errorf("build SSH config: %w", err)
	}

	port := sshOpts.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	timeout := sshOpts.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wrapTimeout("dial "+addr, timeout, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SSH handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("new session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	command := bridgeCommand(sshOpts.Command, device)
	if err := session.Start(command); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("start %q: %w", command, err)
	}

	s.client = client
	s.session = session
	s.stream = newStream(stdout, stdin)
	s.host = host
	s.device = device
	s.sshOpts = sshOpts

	if sshOpts.KeepAlive > 0 {
		go s.keepAlive(client, sshOpts.KeepAlive)
	}
	return nil
}

// buildSSHConfig builds the SSH client configuration.
func buildSSHConfig(opts SSHOptions) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if opts.Agent {
		if agentAuth := sshAgentAuth(); agentAuth != nil {
			authMethods = append(authMethods, agentAuth)
		}
	}

	if opts.KeyFile != "" {
		keyAuth, err := publicKeyAuth(opts.KeyFile, opts.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("key file auth: %w", err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	// Default key files when neither a key nor the agent is configured
	if opts.KeyFile == "" && !opts.Agent {
		for _, keyPath := range defaultKeyPaths() {
			if keyAuth, err := publicKeyAuth(keyPath, ""); err == nil {
				authMethods = append(authMethods, keyAuth)
				break
			}
		}
	}

	if opts.Password != "" {
		authMethods = append(authMethods, ssh.Password(opts.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	user := opts.User
	if user == "" {
		user = currentUser()
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}, nil
}

func hostKeyCallback(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHost {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("known hosts: %w (set insecure=true to skip host verification)", err)
	}
	return cb, nil
}

func currentUser() string {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME") // Windows
	}
	return user
}

// keepAlive sends periodic keep-alive requests until the client is replaced
// or a request fails.
func (s *SSH) keepAlive(client *ssh.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		current := s.client
		s.mu.Unlock()

		if current != client {
			return
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			return
		}
	}
}

// Disconnect stops the bridge command and closes the SSH connection.
func (s *SSH) Disconnect(ctx context.Context, address string, serve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	var errs []error
	if err := s.stream.close(); err != nil {
		errs = append(errs, err)
	}
	s.session.Close()
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	s.client = nil
	s.session = nil
	s.stream = nil

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Send writes data to the remote command's stdin.
func (s *SSH) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return ErrNotConnected
	}
	return s.stream.send(data)
}

// Receive reads from the remote command's stdout.
func (s *SSH) Receive(ctx context.Context, limit int) ([]byte, error) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()

	if st == nil {
		return nil, ErrNotConnected
	}
	return st.receive(ctx, limit, s.opts.Timeout)
}

// Connected reports whether the session is open.
func (s *SSH) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// String returns a description of this transport.
func (s *SSH) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == "" {
		return "ssh"
	}
	user := s.sshOpts.User
	if user == "" {
		user = currentUser()
	}
	if user == "" {
		user = "unknown"
	}
	port := s.sshOpts.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("ssh://%s@%s:%d%s", user, s.host, port, s.device)
}

// Helper functions

// sshAgentAuth returns an SSH agent authentication method when
// SSH_AUTH_SOCK points to a reachable agent.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" || runtime.GOOS == "windows" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers)
}

// publicKeyAuth returns a public key authentication method.
func publicKeyAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

// defaultKeyPaths returns default SSH key file paths.
func defaultKeyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
	}
}

// bridgeCommand substitutes the quoted device path into the command template.
func bridgeCommand(template, device string) string {
	if template == "" {
		template = DefaultSSHCommand
	}
	if !strings.Contains(template, "%s") {
		return template
	}
	return fmt.Sprintf(template, shellQuote(device))
}

func shellQuote(s string) string {
	if !needsQuoting(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// needsQuoting returns true if the string needs shell quoting.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, c := range s {
		switch c {
		case ' ', '\t', '\n', '"', '\'', '\\', '$', '`', '!', '*', '?', '[', ']', '(', ')', '{', '}', '<', '>', '|', '&', ';', ',':
			return true
		}
	}
	return false
}
