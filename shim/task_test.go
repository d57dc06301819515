package shim

import (
	"syscall"
	"testing"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"

	"github.com/MarcinKonowalczyk/treebf/runner"
	"github.com/MarcinKonowalczyk/treebf/utils"
)

func TestProgramCommand(t *testing.T) {
	b := &Bundle{Rootfs: "/bundle/rootfs", Entrypoint: "hello.bf"}
	cmd := programCommand("/usr/bin/shim", "/bundle/start-stopped.sh", b)
	utils.AssertEqualArrays(t, cmd.Args, []string{
		"/bin/sh", "/bundle/start-stopped.sh", "/usr/bin/shim", "brainfuck", "-file", "/bundle/rootfs/hello.bf",
	})
	utils.AssertEqual(t, cmd.WaitDelay, stdioWaitDelay)
}

func TestSignalFor(t *testing.T) {
	utils.AssertEqual(t, signalFor(&taskAPI.KillRequest{}), syscall.SIGKILL)
	utils.AssertEqual(t, signalFor(&taskAPI.KillRequest{Signal: uint32(syscall.SIGTERM)}), syscall.SIGTERM)
}

func TestDescribeExit(t *testing.T) {
	utils.AssertEqual(t, describeExit(runner.ExitOK), "program finished")
	utils.AssertEqual(t, describeExit(runner.ExitParse), "program failed to parse")
	utils.AssertEqual(t, describeExit(runner.ExitRuntime), "program failed at runtime")
	utils.AssertEqual(t, describeExit(runner.ExitFailure), "program failed")
	utils.AssertEqual(t, describeExit(exitCodeSignal+int(syscall.SIGKILL)), "program terminated by signal 9 (killed)")
}
