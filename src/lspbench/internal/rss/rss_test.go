package rss

import (
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/lspbench/lspbench/src/lspbench/internal/executor"
	"github.com/stretchr/testify/assert"
)

func fakeExecutor(stdout string, err error) executor.Executor {
	return executor.NewExecutor(executor.WithExecFunc(func(cmd *exec.Cmd) error {
		if err != nil {
			return err
		}
		cmd.Stdout.Write([]byte(stdout))
		return nil
	}))
}

func TestSample(t *testing.T) {
	t.Run("parses kilobytes", func(t *testing.T) {
		s := New(fakeExecutor(" 51200\n", nil))
		assert.Equal(t, int64(51200), s.Sample(1234))
	})

	t.Run("probe failure is unmeasured", func(t *testing.T) {
		s := New(fakeExecutor("", errors.New("no such process")))
		assert.Equal(t, int64(0), s.Sample(1234))
	})

	t.Run("garbage output is unmeasured", func(t *testing.T) {
		s := New(fakeExecutor("not-a-number", nil))
		assert.Equal(t, int64(0), s.Sample(1234))
	})

	t.Run("invalid pid is unmeasured", func(t *testing.T) {
		s := New(fakeExecutor("1", nil))
		assert.Equal(t, int64(0), s.Sample(0))
	})
}

func TestSampleSelf(t *testing.T) {
	// Against the real ps: our own process has a positive RSS.
	s := New(executor.NewExecutor())
	if kb := s.Sample(os.Getpid()); kb == 0 {
		t.Skip("ps probe unavailable on this host")
	} else {
		assert.Positive(t, kb)
	}
}
