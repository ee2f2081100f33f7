package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoneSandboxExecAndGate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mgr := NewManager(NewNoneFactory(nil), 100, 10)

	cap, err := mgr.Start(ctx, "p1", dir, Policy{Kind: "none"})
	require.NoError(t, err)
	require.Equal(t, StatusReady, cap.Status())

	result, err := mgr.Exec(ctx, "p1", "echo hello", time.Second)
	require.NoError(t, err)
	require.Contains(t, result.Stdout, "hello")

	_, err = mgr.Exec(ctx, "p1", "sudo rm -rf /", time.Second)
	require.Error(t, err, "sudo is on the denylist")
}

func TestManagerStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mgr := NewManager(NewNoneFactory(nil), 100, 10)

	first, err := mgr.Start(ctx, "p1", dir, Policy{Kind: "none"})
	require.NoError(t, err)
	second, err := mgr.Start(ctx, "p1", dir, Policy{Kind: "none"})
	require.NoError(t, err)
	require.Same(t, first, second, "a ready sandbox is adopted, not recreated")
}

func TestManagerExecUnknownProject(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(NewNoneFactory(nil), 100, 10)
	_, err := mgr.Exec(ctx, "missing", "echo hi", time.Second)
	require.Error(t, err)
}

func TestManagerDestroyRemovesMapping(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mgr := NewManager(NewNoneFactory(nil), 100, 10)
	_, err := mgr.Start(ctx, "p1", dir, Policy{Kind: "none"})
	require.NoError(t, err)

	require.NoError(t, mgr.Destroy(ctx, "p1"))

	_, err = mgr.Exec(ctx, "p1", "echo hi", time.Second)
	require.Error(t, err, "destroyed sandboxes are no longer addressable")
}

func TestNoneSandboxExecTimeout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mgr := NewManager(NewNoneFactory(nil), 100, 10)
	_, err := mgr.Start(ctx, "p1", dir, Policy{Kind: "none"})
	require.NoError(t, err)

	_, err = mgr.Exec(ctx, "p1", "sleep 2", 50*time.Millisecond)
	require.Error(t, err, "the command outlives its timeout")
}

func TestNoneSandboxRunsInWorkspaceDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))
	mgr := NewManager(NewNoneFactory(nil), 100, 10)
	_, err := mgr.Start(ctx, "p1", dir, Policy{Kind: "none"})
	require.NoError(t, err)

	result, err := mgr.Exec(ctx, "p1", "ls", time.Second)
	require.NoError(t, err)
	require.Contains(t, result.Stdout, "marker.txt")
}

func TestRemoteCloudVariantIsUnimplemented(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(NewRemoteCloudFactory(), 100, 10)
	_, err := mgr.Start(ctx, "p1", t.TempDir(), Policy{Kind: "remote_cloud"})
	require.Error(t, err)
}
