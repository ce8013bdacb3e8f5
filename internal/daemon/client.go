package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/kdbg/internal/domain"
)

const (
	dialTimeout     = 2 * time.Second
	startupWait     = 5 * time.Second
	startupPoll     = 100 * time.Millisecond
	responseMargin  = 30 * time.Second
	defaultExecWait = 6 * time.Minute
)

// Client talks to a running daemon. One request per connection keeps failure
// handling trivial; command execution is the expensive part, not dialing.
type Client struct {
	socket string
}

func NewClient(socket string) *Client {
	return &Client{socket: socket}
}

func (c *Client) Ping() error {
	_, err := c.roundTrip(Request{Op: OpPing}, dialTimeout+responseMargin)
	return err
}

func (c *Client) Create(target, mode string) (domain.Session, error) {
	resp, err := c.roundTrip(Request{Op: OpCreate, Target: target, Mode: mode}, defaultExecWait)
	if err != nil {
		return domain.Session{}, err
	}
	if resp.Session == nil {
		return domain.Session{}, errors.New("daemon response missing session")
	}
	return *resp.Session, nil
}

func (c *Client) Execute(id domain.SessionID, command string, timeout, interruptAfter time.Duration) (domain.CommandResult, error) {
	wait := defaultExecWait
	if timeout > 0 {
		wait = timeout + responseMargin
	}

	resp, err := c.roundTrip(Request{
		Op:               OpExec,
		SessionID:        string(id),
		Command:          command,
		TimeoutMS:        timeout.Milliseconds(),
		InterruptAfterMS: interruptAfter.Milliseconds(),
	}, wait)
	if err != nil {
		return domain.CommandResult{}, err
	}
	if resp.Result == nil {
		return domain.CommandResult{}, errors.New("daemon response missing result")
	}
	return *resp.Result, nil
}

func (c *Client) Reattach(id domain.SessionID) (domain.SessionStatus, error) {
	resp, err := c.roundTrip(Request{Op: OpReattach, SessionID: string(id)}, dialTimeout+responseMargin)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	if resp.Status == nil {
		return domain.SessionStatus{}, errors.New("daemon response missing status")
	}
	return *resp.Status, nil
}

func (c *Client) List(prune bool) ([]domain.SessionStatus, error) {
	resp, err := c.roundTrip(Request{Op: OpList, Prune: prune}, dialTimeout+responseMargin)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) Stop(id domain.SessionID, force bool) (domain.StopStats, error) {
	resp, err := c.roundTrip(Request{Op: OpStop, SessionID: string(id), Force: force}, dialTimeout+responseMargin)
	if err != nil {
		return domain.StopStats{}, err
	}
	if resp.Stats == nil {
		return domain.StopStats{}, errors.New("daemon response missing stats")
	}
	return *resp.Stats, nil
}

func (c *Client) Shutdown() error {
	_, err := c.roundTrip(Request{Op: OpShutdown}, dialTimeout+responseMargin)
	return err
}

func (c *Client) roundTrip(req Request, wait time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", c.socket, dialTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("dial daemon: %w", err)
	}
	defer func() { _ = conn.Close() }()

	req.ID = uuid.NewString()
	_ = conn.SetDeadline(time.Now().Add(wait))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.ID != req.ID {
		return Response{}, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if !resp.OK {
		return resp, errors.New(resp.Error)
	}

	return resp, nil
}

// EnsureDaemon returns a client to a live daemon, starting one when nothing
// answers on the socket. The daemon is the current binary re-executed in its
// own session so it survives the CLI invocation that spawned it.
func EnsureDaemon(socket string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := NewClient(socket)
	if err := client.Ping(); err == nil {
		return client, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, "daemon", "run", "--socket", socket)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}
	logger.Debug("daemon spawned", slog.Int("pid", cmd.Process.Pid))
	_ = cmd.Process.Release()

	deadline := time.Now().Add(startupWait)
	for time.Now().Before(deadline) {
		if err := client.Ping(); err == nil {
			return client, nil
		}
		time.Sleep(startupPoll)
	}

	return nil, fmt.Errorf("daemon did not come up on %s", socket)
}
