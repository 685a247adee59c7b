package deploy

import (
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/overwatch-dqm/overwatch/pkg/errors"
	"github.com/overwatch-dqm/overwatch/pkg/logging"
	"github.com/overwatch-dqm/overwatch/pkg/processstate"

	"gopkg.in/ini.v1"
)

// SupervisordConfigFilename is the supervisor daemon configuration file that
// supervisor-mode deployment appends program stanzas to.
const SupervisordConfigFilename = "supervisord.conf"

// ListCommand queries the system process table for processes whose command
// line matches processIdentifier. It reports the raw stdout and exit code of
// the listing tool; err is non-nil whenever the tool did not exit cleanly.
type ListCommand func(processIdentifier string) (stdout []byte, exitCode int, err error)

// SignalCommand delivers a signal to a process.
type SignalCommand func(pid int, signal syscall.Signal) error

// ControllerOptions allows substituting the OS interactions of a Controller.
// Nil fields fall back to the platform defaults (pgrep -f and kill).
type ControllerOptions struct {
	List   ListCommand
	Signal SignalCommand
}

// Controller drives the deployment lifecycle of a single executable:
// discovery of stale instances, graceful termination, and launch of a fresh
// instance with log redirection. All operations are synchronous; the
// orchestrator invokes them sequentially, one service at a time.
type Controller struct {
	executable *Executable
	list       ListCommand
	signal     SignalCommand
	logger     logging.Logger
}

// NewController creates a controller for a fully constructed executable.
func NewController(executable *Executable, options ControllerOptions, logger logging.Logger) *Controller {
	list := options.List
	if list == nil {
		list = defaultListCommand
	}
	signal := options.Signal
	if signal == nil {
		signal = defaultSignalCommand
	}

	return &Controller{
		executable: executable,
		list:       list,
		signal:     signal,
		logger:     logger,
	}
}

// ProcessPIDs returns the PIDs of all running processes matching the
// executable's process identifier. No match is a normal empty result, not an
// error; any listing failure other than "no match" is propagated.
func (c *Controller) ProcessPIDs() ([]int, error) {
	identifier := c.executable.ProcessIdentifier

	stdout, exitCode, err := c.list(identifier)
	switch exitCode {
	case 0:
		// Matches found, parse below.
	case 1:
		// pgrep exit code 1 means no processes matched.
		c.logger.Debugf("No matching processes, identifier: %q", identifier)
		return []int{}, nil
	default:
		if err == nil {
			err = fmt.Errorf("process listing exited with code %d", exitCode)
		}
		return nil, errors.NewProcessError("process listing failed", err).
			WithContext("process_identifier", identifier).
			WithContext("exit_code", exitCode)
	}

	pids := []int{}
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, errors.NewInternalError("unparsable PID in process listing output", err).
				WithContext("line", line)
		}
		pids = append(pids, pid)
	}

	c.logger.Debugf("Found matching processes, identifier: %q, PIDs: %v", identifier, pids)
	return pids, nil
}

// SingleProcessPID returns the PID of the one running instance of the
// executable. More than one candidate is an ambiguity the controller cannot
// safely resolve.
func (c *Controller) SingleProcessPID() (int, error) {
	pids, err := c.ProcessPIDs()
	if err != nil {
		return 0, err
	}

	switch len(pids) {
	case 0:
		return 0, errors.NewNotFoundError("no matching process found", nil).
			WithContext("process_identifier", c.executable.ProcessIdentifier)
	case 1:
		return pids[0], nil
	default:
		return 0, errors.NewAmbiguityError(
			fmt.Sprintf("Multiple PIDs found for process identifier %q: %v",
				c.executable.ProcessIdentifier, pids), nil)
	}
}

// KillExistingProcess terminates any running instances of the executable by
// sending each an interrupt, then re-checks the process table to verify they
// exited. It returns the number of processes signaled. A process surviving
// the interrupt is fatal; no escalation to a forced kill is attempted, so an
// operator sees the problem instead of a masked one.
func (c *Controller) KillExistingProcess() (int, error) {
	initial, err := c.ProcessPIDs()
	if err != nil {
		return 0, err
	}

	if len(initial) == 0 {
		c.logger.Debugf("No existing process to kill, identifier: %q", c.executable.ProcessIdentifier)
		return 0, nil
	}

	for _, pid := range initial {
		c.logger.Infof("Sending SIGINT, executable: %s, PID: %d", c.executable.Name, pid)
		if err := c.signal(pid, syscall.SIGINT); err != nil {
			return 0, errors.NewProcessError("failed to signal process", err).
				WithContext("pid", pid)
		}
	}

	remaining, err := c.ProcessPIDs()
	if err != nil {
		return 0, err
	}

	var survivors []int
	for _, pid := range initial {
		for _, still := range remaining {
			if pid == still {
				survivors = append(survivors, pid)
				break
			}
		}
	}
	if len(survivors) > 0 {
		return 0, errors.NewTerminationError(
			fmt.Sprintf("found PIDs %v after killing the processes.", survivors), nil).
			WithContext("process_identifier", c.executable.ProcessIdentifier)
	}

	c.logger.Infof("Killed existing processes, executable: %s, count: %d", c.executable.Name, len(initial))
	return len(initial), nil
}

// StartProcessWithLog launches the executable. In direct mode it spawns a
// child process with stdout and stderr redirected into "<name>.log" and
// returns the process handle without waiting for it. In supervisor mode it
// instead appends a program stanza to supervisord.conf and returns a nil
// handle; the supervisor daemon starts the process out of band.
func (c *Controller) StartProcessWithLog() (*os.Process, error) {
	if c.executable.Supervisord {
		if err := c.writeSupervisordEntry(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	logFilename := c.executable.Name + ".log"
	logFile, err := os.Create(logFilename)
	if err != nil {
		return nil, errors.NewIOError("failed to open log file", err).
			WithContext("log_file", logFilename)
	}

	args := c.executable.Args
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	c.logger.Infof("Starting process, executable: %s, args: %v, log: %s",
		c.executable.Name, args, logFilename)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, errors.NewProcessError("failed to start process", err).
			WithContext("executable", c.executable.Name).
			WithContext("args", strings.Join(args, " "))
	}

	// The child holds its own descriptor after Start.
	logFile.Close()

	c.logger.Infof("Process started, executable: %s, PID: %d", c.executable.Name, cmd.Process.Pid)
	return cmd.Process, nil
}

// writeSupervisordEntry appends one [program:<name>] stanza to the supervisor
// daemon configuration. Append mode keeps stanzas from earlier deployment
// runs intact.
func (c *Controller) writeSupervisordEntry() error {
	file, err := os.OpenFile(SupervisordConfigFilename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewIOError("failed to open supervisord configuration", err).
			WithContext("filename", SupervisordConfigFilename)
	}
	defer file.Close()

	entry := ini.Empty()
	section, err := entry.NewSection("program:" + c.executable.Name)
	if err != nil {
		return errors.NewInternalError("failed to create supervisord program section", err)
	}
	if _, err := section.NewKey("command", strings.Join(c.executable.Args, " ")); err != nil {
		return errors.NewInternalError("failed to set supervisord command", err)
	}
	if _, err := section.NewKey("redirect_stderr", "true"); err != nil {
		return errors.NewInternalError("failed to set supervisord redirect_stderr", err)
	}
	if _, err := section.NewKey("stdout_logfile", c.executable.Name+".log"); err != nil {
		return errors.NewInternalError("failed to set supervisord stdout_logfile", err)
	}

	if _, err := entry.WriteTo(file); err != nil {
		return errors.NewIOError("failed to append supervisord program entry", err).
			WithContext("filename", SupervisordConfigFilename).
			WithContext("program", c.executable.Name)
	}

	c.logger.Infof("Registered supervisord program, executable: %s", c.executable.Name)
	return nil
}

// Deploy runs the full per-service cycle: set up the executable, kill any
// stale instance, and start a fresh one. The returned process handle is nil
// in supervisor mode.
func (c *Controller) Deploy() (*os.Process, error) {
	if err := c.executable.Setup(); err != nil {
		return nil, err
	}

	if _, err := c.KillExistingProcess(); err != nil {
		return nil, err
	}

	return c.StartProcessWithLog()
}

// ServiceStatus reports the observed state of a deployed executable.
type ServiceStatus struct {
	Name              string
	ProcessIdentifier string
	PIDs              []int
	Running           bool
}

// Status queries the process table for the executable and probes whether the
// matched processes are actually alive.
func (c *Controller) Status() (ServiceStatus, error) {
	status := ServiceStatus{
		Name:              c.executable.Name,
		ProcessIdentifier: c.executable.ProcessIdentifier,
	}

	pids, err := c.ProcessPIDs()
	if err != nil {
		return status, err
	}
	status.PIDs = pids

	for _, pid := range pids {
		running, err := processstate.IsProcessRunning(pid)
		if err != nil {
			return status, errors.NewProcessError("failed to probe process state", err).
				WithContext("pid", pid)
		}
		if running {
			status.Running = true
			break
		}
	}

	return status, nil
}

// defaultListCommand shells out to pgrep -f, matching the full command line
// against the process identifier.
func defaultListCommand(processIdentifier string) ([]byte, int, error) {
	cmd := exec.Command("pgrep", "-f", processIdentifier)
	stdout, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return stdout, exitErr.ExitCode(), err
		}
		// The listing tool could not be run at all.
		return nil, -1, err
	}
	return stdout, 0, nil
}
