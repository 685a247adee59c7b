//go:build !windows

package deploy

import (
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-dqm/overwatch/pkg/errors"
)

type listResult struct {
	stdout   string
	exitCode int
}

// fakeList builds a ListCommand returning canned responses in order, then
// repeating the last one.
func fakeList(responses ...listResult) ListCommand {
	call := 0
	return func(processIdentifier string) ([]byte, int, error) {
		response := responses[call]
		if call < len(responses)-1 {
			call++
		}
		var err error
		if response.exitCode != 0 {
			err = fmt.Errorf("exit status %d", response.exitCode)
		}
		return []byte(response.stdout), response.exitCode, err
	}
}

func listResponse(stdout string, exitCode int) listResult {
	return listResult{stdout: stdout, exitCode: exitCode}
}

func noSignal(pid int, signal syscall.Signal) error {
	return nil
}

func newTestController(t *testing.T, list ListCommand, signal SignalCommand) *Controller {
	t.Helper()

	executable := NewExecutable("webApp", "Overwatch web app",
		[]string{"overwatchWebApp"}, ExecutableOptions{}, testLogger())
	require.NoError(t, executable.Setup())

	return NewController(executable, ControllerOptions{List: list, Signal: signal}, testLogger())
}

func TestProcessPIDsNoMatch(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("", 1)), noSignal)

	pids, err := controller.ProcessPIDs()
	require.NoError(t, err)
	assert.Equal(t, []int{}, pids)
}

func TestProcessPIDsSingleMatch(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("1234\n", 0)), noSignal)

	pids, err := controller.ProcessPIDs()
	require.NoError(t, err)
	assert.Equal(t, []int{1234}, pids)
}

func TestProcessPIDsMultipleMatches(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("1234\n5678\n", 0)), noSignal)

	pids, err := controller.ProcessPIDs()
	require.NoError(t, err)
	assert.Equal(t, []int{1234, 5678}, pids)
}

func TestProcessPIDsListingFailure(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("", 2)), noSignal)

	_, err := controller.ProcessPIDs()
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
}

func TestSingleProcessPID(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("1234\n", 0)), noSignal)

	pid, err := controller.SingleProcessPID()
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestSingleProcessPIDNoneFound(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("", 1)), noSignal)

	_, err := controller.SingleProcessPID()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSingleProcessPIDAmbiguous(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("1234\n5678\n", 0)), noSignal)

	_, err := controller.SingleProcessPID()
	require.Error(t, err)
	assert.True(t, errors.IsAmbiguityError(err))
	assert.Contains(t, err.Error(), "Multiple PIDs")
}

func TestKillExistingProcessNothingRunning(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("", 1)), noSignal)

	killed, err := controller.KillExistingProcess()
	require.NoError(t, err)
	assert.Equal(t, 0, killed)
}

func TestKillExistingProcessSingle(t *testing.T) {
	var signaled []int
	signal := func(pid int, sig syscall.Signal) error {
		assert.Equal(t, syscall.SIGINT, sig)
		signaled = append(signaled, pid)
		return nil
	}

	controller := newTestController(t,
		fakeList(listResponse("1234\n", 0), listResponse("", 1)), signal)

	killed, err := controller.KillExistingProcess()
	require.NoError(t, err)
	assert.Equal(t, 1, killed)
	assert.Equal(t, []int{1234}, signaled)
}

func TestKillExistingProcessMultiple(t *testing.T) {
	var signaled []int
	signal := func(pid int, sig syscall.Signal) error {
		signaled = append(signaled, pid)
		return nil
	}

	controller := newTestController(t,
		fakeList(listResponse("1234\n5678\n", 0), listResponse("", 1)), signal)

	killed, err := controller.KillExistingProcess()
	require.NoError(t, err)
	assert.Equal(t, 2, killed)
	assert.Equal(t, []int{1234, 5678}, signaled)
}

func TestKillExistingProcessSurvivorIsFatal(t *testing.T) {
	controller := newTestController(t,
		fakeList(listResponse("1234567\n", 0), listResponse("1234567\n", 0)), noSignal)

	_, err := controller.KillExistingProcess()
	require.Error(t, err)
	assert.True(t, errors.IsTerminationError(err))
	assert.Contains(t, err.Error(), "found PIDs [1234567] after killing the processes.")
}

func TestKillExistingProcessSignalFailure(t *testing.T) {
	signal := func(pid int, sig syscall.Signal) error {
		return fmt.Errorf("operation not permitted")
	}

	controller := newTestController(t, fakeList(listResponse("1234\n", 0)), signal)

	_, err := controller.KillExistingProcess()
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
}

// chdirTemp switches into a fresh temporary directory for tests which write
// files relative to the working directory.
func chdirTemp(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(previous))
	})
	return dir
}

func TestStartProcessWithLogDirect(t *testing.T) {
	chdirTemp(t)

	executable := NewExecutable("echoTest", "echo test",
		[]string{"/bin/sh", "-c", "echo started"}, ExecutableOptions{}, testLogger())
	require.NoError(t, executable.Setup())

	controller := NewController(executable, ControllerOptions{}, testLogger())

	process, err := controller.StartProcessWithLog()
	require.NoError(t, err)
	require.NotNil(t, process)

	// Reap the child and confirm the output landed in the log file.
	state, err := process.Wait()
	require.NoError(t, err)
	assert.True(t, state.Success())

	data, err := os.ReadFile("echoTest.log")
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(data))
}

func TestStartProcessWithLogSupervisord(t *testing.T) {
	chdirTemp(t)

	executable := NewExecutable("webApp", "Overwatch web app",
		[]string{"overwatchWebApp"}, ExecutableOptions{Supervisord: true}, testLogger())
	require.NoError(t, executable.Setup())

	controller := NewController(executable, ControllerOptions{}, testLogger())

	process, err := controller.StartProcessWithLog()
	require.NoError(t, err)
	assert.Nil(t, process)

	data, err := os.ReadFile(SupervisordConfigFilename)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "[program:webApp]")
	assert.Contains(t, content, "command")
	assert.Contains(t, content, "overwatchWebApp")
	assert.Contains(t, content, "redirect_stderr")
	assert.Contains(t, content, "stdout_logfile")
	assert.Contains(t, content, "webApp.log")
}

func TestStartProcessWithLogSupervisordAppends(t *testing.T) {
	chdirTemp(t)

	for _, name := range []string{"webApp", "processing"} {
		executable := NewExecutable(name, name,
			[]string{"overwatch" + name}, ExecutableOptions{Supervisord: true}, testLogger())
		require.NoError(t, executable.Setup())

		controller := NewController(executable, ControllerOptions{}, testLogger())
		_, err := controller.StartProcessWithLog()
		require.NoError(t, err)
	}

	data, err := os.ReadFile(SupervisordConfigFilename)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "[program:webApp]")
	assert.Contains(t, content, "[program:processing]")
}

func TestDeployKillsThenStarts(t *testing.T) {
	chdirTemp(t)

	var signaled []int
	signal := func(pid int, sig syscall.Signal) error {
		signaled = append(signaled, pid)
		return nil
	}

	executable := NewExecutable("echoTest", "echo test",
		[]string{"/bin/sh", "-c", "echo deployed"}, ExecutableOptions{}, testLogger())

	controller := NewController(executable,
		ControllerOptions{
			List:   fakeList(listResponse("4321\n", 0), listResponse("", 1)),
			Signal: signal,
		}, testLogger())

	process, err := controller.Deploy()
	require.NoError(t, err)
	require.NotNil(t, process)

	_, err = process.Wait()
	require.NoError(t, err)

	assert.Equal(t, []int{4321}, signaled)
	assert.FileExists(t, "echoTest.log")
}

func TestStatusNotRunning(t *testing.T) {
	controller := newTestController(t, fakeList(listResponse("", 1)), noSignal)

	status, err := controller.Status()
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Empty(t, status.PIDs)
}

func TestStatusRunning(t *testing.T) {
	// Our own PID is guaranteed to be alive.
	self := os.Getpid()
	controller := newTestController(t,
		fakeList(listResponse(fmt.Sprintf("%d\n", self), 0)), noSignal)

	status, err := controller.Status()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, []int{self}, status.PIDs)
}
