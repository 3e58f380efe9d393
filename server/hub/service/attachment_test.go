package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness_hub/server/hub/domain"
)

type storedObject struct {
	data        []byte
	contentType string
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	removed []string
	fail    bool
}

func (s *fakeObjectStore) PutObject(_ context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if s.fail {
		return minio.UploadInfo{}, errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string]storedObject{}
	}
	s.objects[name] = storedObject{data: data, contentType: opts.ContentType}
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: size}, nil
}

func (s *fakeObjectStore) RemoveObject(_ context.Context, _ string, name string, _ minio.RemoveObjectOptions) error {
	if s.fail {
		return errors.New("bucket unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	s.removed = append(s.removed, name)
	return nil
}

func (s *fakeObjectStore) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAttachmentsStoreImageWithThumbnail(t *testing.T) {
	quietLogs(t)
	objects := &fakeObjectStore{}
	a := NewAttachments(objects, "hub", "https://cdn.example.com")

	up, err := a.Store(context.Background(), "../../morning run.png", "image/png", bytes.NewReader(pngBytes(t, 640, 480)))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(up.FileRef, "forum/"))
	assert.True(t, strings.HasSuffix(up.FileRef, "_morning_run.png"))
	assert.Equal(t, "https://cdn.example.com/"+up.FileRef, up.URL)
	require.NotNil(t, up.ThumbnailRef)
	assert.Equal(t, strings.TrimSuffix(up.FileRef, ".png")+"_thumb.jpg", *up.ThumbnailRef)

	thumb, ok := objects.objects[*up.ThumbnailRef]
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", thumb.contentType)
	img, err := imaging.Decode(bytes.NewReader(thumb.data))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 320)
	assert.LessOrEqual(t, img.Bounds().Dy(), 320)
}

func TestAttachmentsNonImageHasNoThumbnail(t *testing.T) {
	objects := &fakeObjectStore{}
	a := NewAttachments(objects, "hub", "")

	up, err := a.Store(context.Background(), "plan.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Nil(t, up.ThumbnailRef)
	assert.Equal(t, up.FileRef, up.URL)
	assert.Len(t, objects.objects, 1)
}

func TestAttachmentsRejectsEmptyAndFailedUploads(t *testing.T) {
	a := NewAttachments(&fakeObjectStore{}, "hub", "")
	_, err := a.Store(context.Background(), "empty.txt", "text/plain", strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrValidation)

	broken := NewAttachments(&fakeObjectStore{fail: true}, "hub", "")
	_, err = broken.Store(context.Background(), "a.txt", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, domain.CodeInternal, domain.ErrorCode(err))
}

func TestAttachmentURLKeepsAbsoluteRefs(t *testing.T) {
	a := NewAttachments(&fakeObjectStore{}, "hub", "https://cdn.example.com/")
	assert.Equal(t, "https://other.example.com/x.png", a.URL("https://other.example.com/x.png"))
	assert.Equal(t, "https://cdn.example.com/forum/x.png", a.URL("/forum/x.png"))
}

func TestAttachmentsRemoveDeletesObjectAndThumbnail(t *testing.T) {
	quietLogs(t)
	objects := &fakeObjectStore{}
	a := NewAttachments(objects, "hub", "")

	up, err := a.Store(context.Background(), "lift.png", "image/png", bytes.NewReader(pngBytes(t, 64, 64)))
	require.NoError(t, err)
	require.Len(t, objects.objects, 2)

	require.NoError(t, a.Remove(context.Background(), up.FileRef))
	assert.Empty(t, objects.objects)

	require.NoError(t, a.Remove(context.Background(), "https://elsewhere.example.com/a.png"))
	assert.Len(t, objects.Removed(), 2)

	broken := NewAttachments(&fakeObjectStore{fail: true}, "hub", "")
	assert.Error(t, broken.Remove(context.Background(), "forum/x.png"))
}
