package transport

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Constructor creates a transport from options.
type Constructor func(opts Options) Transport

var constructors = map[string]Constructor{
	"tcp":    func(opts Options) Transport { return NewTCP(opts) },
	"serial": func(opts Options) Transport { return NewSerial(opts) },
	"pipe":   func(opts Options) Transport { return NewPipe(opts) },
	"ssh":    func(opts Options) Transport { return NewSSH(opts) },
}

// New returns the transport registered under kind.
func New(kind string, opts Options) (Transport, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("unsupported transport %q (available: %s)", kind, strings.Join(Kinds(), ", "))
	}
	return ctor(opts), nil
}

// Kinds lists the registered transport kinds in sorted order.
func Kinds() []string {
	kinds := make([]string, 0, len(constructors))
	for k := range constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ParseSSHAddress splits an SSH bridge address into host, remote device path
// and options. Supported formats:
//   - "host/dev/ttyUSB0"
//   - "user@host:2222/dev/ttyUSB0"
//   - "ssh://user@host:2222/dev/ttyUSB0?key=/path&insecure=true&cmd=..."
//
// Query parameters and URL components override base.
func ParseSSHAddress(raw string, base SSHOptions) (host, device string, opts SSHOptions, err error) {
	opts = base
	if !strings.Contains(raw, "://") {
		raw = "ssh://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", opts, fmt.Errorf("parse SSH address: %w", err)
	}
	if u.Scheme != "ssh" {
		return "", "", opts, fmt.Errorf("unsupported SSH address scheme: %s", u.Scheme)
	}

	if u.User != nil {
		opts.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}

	host = u.Hostname()
	if host == "" {
		return "", "", opts, fmt.Errorf("SSH host is required")
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", "", opts, fmt.Errorf("invalid port: %w", err)
		}
		opts.Port = port
	}

	device = u.Path
	if device == "" || device == "/" {
		return "", "", opts, fmt.Errorf("SSH address %q has no device path", raw)
	}

	q := u.Query()
	if key := q.Get("key"); key != "" {
		opts.KeyFile = key
	}
	if passphrase := q.Get("passphrase"); passphrase != "" {
		opts.KeyPassphrase = passphrase
	}
	if knownHosts := q.Get("known_hosts"); knownHosts != "" {
		opts.KnownHostsFile = knownHosts
	}
	if insecure := q.Get("insecure"); insecure == "true" || insecure == "1" {
		opts.InsecureIgnoreHost = true
	}
	if agent := q.Get("agent"); agent == "false" || agent == "0" {
		opts.Agent = false
	}
	if cmd := q.Get("cmd"); cmd != "" {
		opts.Command = cmd
	}

	return host, device, opts, nil
}
