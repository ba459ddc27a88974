package fetch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jusunglee/igrelay/internal/instagram"
	"github.com/jusunglee/igrelay/internal/store"
)

type MockProfileSource struct {
	mock.Mock
}

func (m *MockProfileSource) GetProfile(ctx context.Context, username string) (instagram.Profile, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(instagram.Profile), args.Error(1)
}

func (m *MockProfileSource) DownloadPicture(ctx context.Context, picURL string) (io.ReadCloser, error) {
	args := m.Called(ctx, picURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type MockMediaDownloader struct {
	mock.Mock
}

func (m *MockMediaDownloader) Download(ctx context.Context, url, outTemplate string, audioOnly bool) (Metadata, error) {
	args := m.Called(ctx, url, outTemplate, audioOnly)
	return args.Get(0).(Metadata), args.Error(1)
}

func newTestFetcher(t *testing.T) (*Fetcher, *MockProfileSource, *MockMediaDownloader) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	files, err := store.NewManager(log, t.TempDir())
	require.NoError(t, err)

	profiles := &MockProfileSource{}
	media := &MockMediaDownloader{}
	return NewFetcher(log, profiles, media, files, time.Minute), profiles, media
}

func TestFetchProfilePicture(t *testing.T) {
	t.Run("saves the picture and carries account names", func(t *testing.T) {
		f, profiles, _ := newTestFetcher(t)

		profiles.On("GetProfile", mock.Anything, "natgeo").Return(instagram.Profile{
			Username:      "natgeo",
			FullName:      "National Geographic",
			ProfilePicURL: "https://cdn.example/pic_hd.jpg",
		}, nil)
		profiles.On("DownloadPicture", mock.Anything, "https://cdn.example/pic_hd.jpg").
			Return(io.NopCloser(strings.NewReader("jpeg-bytes")), nil)

		res, err := f.FetchProfilePicture(context.Background(), "natgeo")
		require.NoError(t, err)
		assert.Equal(t, "National Geographic", res.Title)
		assert.Equal(t, "natgeo", res.Uploader)

		data, err := os.ReadFile(res.Path)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-bytes", string(data))
		profiles.AssertExpectations(t)
	})

	t.Run("propagates profile errors", func(t *testing.T) {
		f, profiles, _ := newTestFetcher(t)

		profiles.On("GetProfile", mock.Anything, "nobody").
			Return(instagram.Profile{}, instagram.ErrNotFound)

		_, err := f.FetchProfilePicture(context.Background(), "nobody")
		assert.ErrorIs(t, err, instagram.ErrNotFound)
	})

	t.Run("missing picture URL is not found", func(t *testing.T) {
		f, profiles, _ := newTestFetcher(t)

		profiles.On("GetProfile", mock.Anything, "bare").
			Return(instagram.Profile{Username: "bare"}, nil)

		_, err := f.FetchProfilePicture(context.Background(), "bare")
		assert.ErrorIs(t, err, instagram.ErrNotFound)
	})
}

func TestFetchMedia(t *testing.T) {
	t.Run("video lands at the metadata extension", func(t *testing.T) {
		f, _, media := newTestFetcher(t)

		media.On("Download", mock.Anything, "https://instagram.com/reel/abc", mock.Anything, false).
			Run(func(args mock.Arguments) {
				template := args.String(2)
				stem := strings.TrimSuffix(template, ".%(ext)s")
				require.NoError(t, os.WriteFile(stem+".mp4", []byte("video"), 0o644))
			}).
			Return(Metadata{Title: "Clip", Uploader: "natgeo", Duration: 42, Ext: "mp4"}, nil)

		res, err := f.FetchMedia(context.Background(), "https://instagram.com/reel/abc", false)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(res.Path, ".mp4"))
		assert.Equal(t, "Clip", res.Title)
		assert.Equal(t, 42*time.Second, res.Duration)
		media.AssertExpectations(t)
	})

	t.Run("audio extraction lands at mp3", func(t *testing.T) {
		f, _, media := newTestFetcher(t)

		media.On("Download", mock.Anything, mock.Anything, mock.Anything, true).
			Run(func(args mock.Arguments) {
				stem := strings.TrimSuffix(args.String(2), ".%(ext)s")
				require.NoError(t, os.WriteFile(stem+".mp3", []byte("audio"), 0o644))
			}).
			Return(Metadata{Title: "Clip", Duration: 30, Ext: "mp4"}, nil)

		res, err := f.FetchMedia(context.Background(), "https://instagram.com/reel/abc", true)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(res.Path, ".mp3"))
	})

	t.Run("download error passes through", func(t *testing.T) {
		f, _, media := newTestFetcher(t)

		media.On("Download", mock.Anything, mock.Anything, mock.Anything, false).
			Return(Metadata{}, ErrUnavailable)

		_, err := f.FetchMedia(context.Background(), "https://instagram.com/reel/gone", false)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("missing output file is an error", func(t *testing.T) {
		f, _, media := newTestFetcher(t)

		media.On("Download", mock.Anything, mock.Anything, mock.Anything, false).
			Return(Metadata{Ext: "mp4"}, nil)

		_, err := f.FetchMedia(context.Background(), "https://instagram.com/reel/abc", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no output")
	})
}

func TestLocateOutput(t *testing.T) {
	dir := t.TempDir()

	t.Run("glob fallback skips partial files", func(t *testing.T) {
		stem := dir + "/media_x"
		require.NoError(t, os.WriteFile(stem+".webm.part", []byte("partial"), 0o644))
		require.NoError(t, os.WriteFile(stem+".webm", []byte("done"), 0o644))

		// Metadata claims mp4 but the extractor fell back to webm.
		path, err := locateOutput(stem, "mp4", false)
		require.NoError(t, err)
		assert.Equal(t, stem+".webm", path)
	})
}
