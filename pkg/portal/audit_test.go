package portal_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/portal"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "t.txt"), []byte("original"), 0o644))
	run("add", "t.txt")
	run("commit", "-m", "initial")

	return dir
}

func TestAuditAndRevert(t *testing.T) {
	dir := initGitRepo(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "t.txt"), []byte("modified"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u.txt"), []byte("new"), 0o644))

	unauthorized, err := portal.Audit(context.Background(), dir, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"t.txt", "u.txt"}, unauthorized)

	_, err = portal.Revert(context.Background(), dir, unauthorized, 2)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "t.txt"))
	require.NoError(t, err)
	require.Equal(t, "original", string(content))

	_, err = os.Stat(filepath.Join(dir, "u.txt"))
	require.True(t, os.IsNotExist(err))

	again, err := portal.Audit(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Empty(t, again)
}
