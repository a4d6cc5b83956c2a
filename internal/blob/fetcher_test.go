package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
)

type fakeClient struct {
	failCount int
	failKind  errs.Kind
	calls     int
	data      []byte
}

func (f *fakeClient) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failCount {
		return nil, errs.New("fake.Fetch", f.failKind, errors.New("boom"))
	}
	return f.data, nil
}

func newFetcher(t *testing.T, client Client) *Fetcher {
	t.Helper()
	f := NewFetcher(client, t.TempDir())
	f.baseDelay = 0
	return f
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	client := &fakeClient{failCount: 2, failKind: errs.Transient, data: []byte("hello")}
	f := newFetcher(t, client)

	path, err := f.Fetch(context.Background(), "job1", "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestFetchNeverRetriesNotFound(t *testing.T) {
	client := &fakeClient{failCount: 99, failKind: errs.NotFound}
	f := newFetcher(t, client)

	_, err := f.Fetch(context.Background(), "job1", "u1", "a1")
	assert.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestFetchNeverRetriesFatal(t *testing.T) {
	client := &fakeClient{failCount: 99, failKind: errs.Fatal}
	f := newFetcher(t, client)

	_, err := f.Fetch(context.Background(), "job1", "u1", "a1")
	assert.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestFetchExhaustsRetriesAsTransient(t *testing.T) {
	client := &fakeClient{failCount: 99, failKind: errs.Transient}
	f := newFetcher(t, client)

	_, err := f.Fetch(context.Background(), "job1", "u1", "a1")
	assert.Error(t, err)
	assert.Equal(t, f.maxRetries+1, client.calls)
	assert.Equal(t, errs.Transient, errs.KindOf(err))
}

func TestFetchWritesUnderJobScratchDir(t *testing.T) {
	client := &fakeClient{data: []byte("x")}
	f := newFetcher(t, client)

	path, err := f.Fetch(context.Background(), "job42", "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "job42", filepath.Base(filepath.Dir(path)))
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "users/u1/audios/a1", Key("u1", "a1"))
}
