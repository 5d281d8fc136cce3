//go:build unix

package commands

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hlog "github.com/pinpox/heychat/internal/log"
)

func TestHangupReopensLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heychat.log")
	logs, err := hlog.New(path, "DEBUG", false)
	require.NoError(t, err)
	defer logs.Close()
	log := logs.GetLogger("heychat")

	stop := rotateOnHangup(logs, log)
	defer stop()

	log.Notice("before")
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	log.Notice("after")

	old, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Contains(t, string(old), "before")
	fresh, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(fresh), "after")
	assert.NotContains(t, string(fresh), "before")
}
