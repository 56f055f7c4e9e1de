// Package shell implements host.Oracle by running commands on each host,
// locally or over ssh.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	rssh "github.com/viant/gosh/runner/ssh"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/service/host"
	"github.com/viant/scy/cred/secret"
	"golang.org/x/crypto/ssh"
)

const (
	memTotalCmd = `awk '/^MemTotal:/ {print $2}' /proc/meminfo`
	psCmd       = `ps -eo pid=,rss=,args=`
)

// Config describes how hosts are reached.
type Config struct {
	// LocalHosts are run with the local runner; "localhost" always is.
	LocalHosts []string `json:"localHosts" yaml:"localHosts"`
	// Credentials maps a hostname to a scy secret resource.
	Credentials map[string]string `json:"credentials" yaml:"credentials"`
	// DefaultCredentials is used for hosts with no entry in Credentials.
	DefaultCredentials string        `json:"defaultCredentials" yaml:"defaultCredentials"`
	Port               int           `json:"port" yaml:"port"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	// LivenessHost is where IsRunning checks pids; defaults to localhost.
	LivenessHost string `json:"livenessHost" yaml:"livenessHost"`
}

type Oracle struct {
	config   Config
	logger   *slog.Logger
	sessions map[string]*gosh.Service
	mux      sync.Mutex
}

type Option func(o *Oracle)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) { o.logger = logger }
}

func New(config Config, options ...Option) *Oracle {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.LivenessHost == "" {
		config.LivenessHost = "localhost"
	}
	ret := &Oracle{config: config, sessions: make(map[string]*gosh.Service)}
	for _, opt := range options {
		opt(ret)
	}
	if ret.logger == nil {
		ret.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return ret
}

func (o *Oracle) TotalRam(ctx context.Context, hostname string) (ram.Ram, error) {
	out, err := o.run(ctx, hostname, memTotalCmd)
	if err != nil {
		return 0, err
	}
	return parseMemTotal(out)
}

func (o *Oracle) ListProcesses(ctx context.Context, hostname string) ([]*host.Process, error) {
	out, err := o.run(ctx, hostname, psCmd)
	if err != nil {
		return nil, err
	}
	return parsePS(hostname, out), nil
}

func (o *Oracle) IsRunning(ctx context.Context, pid int) (bool, error) {
	out, err := o.run(ctx, o.config.LivenessHost, fmt.Sprintf("kill -0 %d 2>/dev/null && echo up || echo down", pid))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "up", nil
}

func (o *Oracle) run(ctx context.Context, hostname, command string) (string, error) {
	session, err := o.session(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", host.ErrUnknownHost, hostname, err)
	}
	out, status, err := session.Run(ctx, command, runner.WithTimeout(int(o.config.Timeout.Milliseconds())))
	if err != nil {
		return "", fmt.Errorf("failed to run %q on %s: %w", command, hostname, err)
	}
	if status != 0 {
		return "", fmt.Errorf("command %q on %s exited with %d: %s", command, hostname, status, out)
	}
	return out, nil
}

func (o *Oracle) session(ctx context.Context, hostname string) (*gosh.Service, error) {
	o.mux.Lock()
	defer o.mux.Unlock()
	if session, ok := o.sessions[hostname]; ok {
		return session, nil
	}
	var session *gosh.Service
	var err error
	if o.isLocal(hostname) {
		session, err = gosh.New(ctx, local.New())
	} else {
		var config *ssh.ClientConfig
		if config, err = o.sshConfig(ctx, hostname); err != nil {
			return nil, err
		}
		session, err = gosh.New(ctx, rssh.New(fmt.Sprintf("%s:%d", hostname, o.config.Port), config))
	}
	if err != nil {
		return nil, err
	}
	o.logger.Debug("opened host session", "hostname", hostname)
	o.sessions[hostname] = session
	return session, nil
}

func (o *Oracle) isLocal(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	for _, candidate := range o.config.LocalHosts {
		if candidate == hostname {
			return true
		}
	}
	return false
}

func (o *Oracle) sshConfig(ctx context.Context, hostname string) (*ssh.ClientConfig, error) {
	resource := o.config.Credentials[hostname]
	if resource == "" {
		resource = o.config.DefaultCredentials
	}
	if resource == "" {
		return nil, fmt.Errorf("no credentials for %s", hostname)
	}
	generic, err := secret.New().GetCredentials(ctx, resource)
	if err != nil {
		return nil, err
	}
	return generic.SSH.Config(ctx)
}

// Close releases all host sessions.
func (o *Oracle) Close() error {
	o.mux.Lock()
	defer o.mux.Unlock()
	var errs []string
	for hostname, session := range o.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", hostname, err))
		}
	}
	o.sessions = make(map[string]*gosh.Service)
	if len(errs) > 0 {
		return fmt.Errorf("failed to close sessions: %s", strings.Join(errs, "; "))
	}
	return nil
}

// parseMemTotal converts the MemTotal kB figure into Ram.
func parseMemTotal(out string) (ram.Ram, error) {
	kb, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MemTotal %q: %w", out, err)
	}
	return ram.FromGB(kb / (1024 * 1024)), nil
}

// parsePS parses `ps -eo pid=,rss=,args=` output; malformed lines are skipped.
func parsePS(hostname, out string) []*host.Process {
	var ret []*host.Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		rss, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		ret = append(ret, &host.Process{
			PID:      pid,
			Hostname: hostname,
			Filename: fields[2],
			Args:     fields[3:],
			Ram:      ram.FromGB(rss / (1024 * 1024)),
		})
	}
	return ret
}

var _ host.Oracle = (*Oracle)(nil)
