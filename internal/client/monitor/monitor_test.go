package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villaprodiq/studiosync/internal/client/platform"
	"github.com/villaprodiq/studiosync/internal/logging"
)

type fakeBridge struct {
	reachable bool
	probes    int
}

func (f *fakeBridge) ProbeConnectivity(ctx context.Context) error {
	f.probes++
	if !f.reachable {
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeBridge) SendRemote(ctx context.Context, req platform.Request) (*platform.Response, error) {
	return nil, errors.New("not used")
}

type fakeBacklog struct {
	pending int
	failed  int
}

func (f *fakeBacklog) PendingCount(ctx context.Context) (int, error) { return f.pending, nil }
func (f *fakeBacklog) FailedCount(ctx context.Context) (int, error)  { return f.failed, nil }

type fakeMirror struct{ err error }

func (f *fakeMirror) Probe(ctx context.Context) error { return f.err }

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestRefresh_ConnectedSnapshot(t *testing.T) {
	bridge := &fakeBridge{reachable: true}
	backlog := &fakeBacklog{pending: 3, failed: 1}

	m := New(bridge, &fakeMirror{}, backlog, time.Minute, nil, testLogger())
	st := m.Refresh(context.Background())

	assert.Equal(t, StateConnected, st.State)
	assert.True(t, st.MirrorOK)
	assert.Equal(t, 3, st.PendingSync)
	assert.Equal(t, 1, st.FailedSync)
	assert.False(t, st.LastChecked.IsZero())
}

func TestRefresh_OfflineKeepsLocalCacheMode(t *testing.T) {
	bridge := &fakeBridge{reachable: false}

	m := New(bridge, nil, &fakeBacklog{pending: 7}, time.Minute, nil, testLogger())
	st := m.Refresh(context.Background())

	assert.Equal(t, StateOffline, st.State)
	assert.NotEmpty(t, st.LastError)
	// Backlog stays visible while offline.
	assert.Equal(t, 7, st.PendingSync)
}

func TestRefresh_MirrorReportedIndependently(t *testing.T) {
	bridge := &fakeBridge{reachable: true}
	mirror := &fakeMirror{err: errors.New("nas export down")}

	m := New(bridge, mirror, &fakeBacklog{}, time.Minute, nil, testLogger())
	st := m.Refresh(context.Background())

	assert.Equal(t, StateConnected, st.State)
	assert.False(t, st.MirrorOK)
}

func TestReconnect_TriggersImmediateDrain(t *testing.T) {
	bridge := &fakeBridge{reachable: false}

	drains := 0
	m := New(bridge, nil, &fakeBacklog{}, time.Minute,
		func(ctx context.Context) { drains++ }, testLogger())

	ctx := context.Background()

	m.Refresh(ctx)
	assert.Equal(t, 0, drains)

	// Transition offline → connected fires the drain hook once.
	bridge.reachable = true
	m.Refresh(ctx)
	assert.Equal(t, 1, drains)

	// Staying connected does not fire it again.
	m.Refresh(ctx)
	assert.Equal(t, 1, drains)
}

func TestS3Mirror_Probe(t *testing.T) {
	mirror := &S3Mirror{client: &fakeHeadBucket{}, bucket: "studio-mirror"}
	require.NoError(t, mirror.Probe(context.Background()))

	mirror = &S3Mirror{client: &fakeHeadBucket{err: errors.New("403")}, bucket: "studio-mirror"}
	assert.Error(t, mirror.Probe(context.Background()))
}

type fakeHeadBucket struct{ err error }

func (f *fakeHeadBucket) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(params.Bucket) == "" {
		return nil, errors.New("missing bucket")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}
