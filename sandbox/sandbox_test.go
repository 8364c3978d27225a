package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/sandbox"
)

func TestIntersectPicksTighterPosture(t *testing.T) {
	request := sandbox.Profile{Network: sandbox.NetworkOpen, Filesystem: sandbox.FilesystemReadwrite, DeadlineMs: 60_000, MaxMemoryMB: 512}
	tool := sandbox.Profile{Network: sandbox.NetworkRestricted, Filesystem: sandbox.FilesystemReadonly, DeadlineMs: 10_000, MaxMemoryMB: 256}

	got := sandbox.Intersect(request, tool)
	require.Equal(t, sandbox.NetworkRestricted, got.Network)
	require.Equal(t, sandbox.FilesystemReadonly, got.Filesystem)
	require.Equal(t, int64(10_000), got.DeadlineMs)
	require.Equal(t, int64(256), got.MaxMemoryMB)
}

func TestIntersectTreatsZeroAsUnconstrained(t *testing.T) {
	request := sandbox.Profile{Network: sandbox.NetworkNone, Filesystem: sandbox.FilesystemNone}
	tool := sandbox.Profile{DeadlineMs: 5_000}

	got := sandbox.Intersect(request, tool)
	require.Equal(t, sandbox.NetworkNone, got.Network)
	require.Equal(t, sandbox.FilesystemNone, got.Filesystem)
	require.Equal(t, int64(5_000), got.DeadlineMs)
	require.Equal(t, int64(0), got.MaxMemoryMB)
}

func TestIntersectUnsetPostureDefersToOtherSide(t *testing.T) {
	request := sandbox.Profile{}
	tool := sandbox.Profile{Network: sandbox.NetworkOpen, Filesystem: sandbox.FilesystemReadwrite}

	got := sandbox.Intersect(request, tool)
	require.Equal(t, sandbox.NetworkOpen, got.Network)
	require.Equal(t, sandbox.FilesystemReadwrite, got.Filesystem)
}
