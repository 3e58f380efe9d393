package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
)

const MaxAttachmentBytes = 10 << 20

type objectStore interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, objectName string, opts minio.RemoveObjectOptions) error
}

// Attachments stores forum files and renders their public URLs.
type Attachments struct {
	client  objectStore
	bucket  string
	baseURL string
}

type Upload struct {
	FileRef      string  `json:"file_ref"`
	URL          string  `json:"url"`
	ThumbnailRef *string `json:"thumbnail_ref,omitempty"`
}

func NewAttachments(client objectStore, bucket, baseURL string) *Attachments {
	return &Attachments{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// URL renders ref as a public link. Refs that are already absolute URLs are
// returned unchanged.
func (a *Attachments) URL(ref string) string {
	if isAbsoluteURL(ref) || a.baseURL == "" {
		return ref
	}
	return a.baseURL + "/" + strings.TrimPrefix(ref, "/")
}

func isAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Remove deletes the object behind ref together with its thumbnail.
// Absolute URLs point outside the bucket and are left alone.
func (a *Attachments) Remove(ctx context.Context, ref string) error {
	key := strings.TrimPrefix(strings.TrimSpace(ref), "/")
	if key == "" || isAbsoluteURL(key) {
		return nil
	}
	for _, name := range []string{key, thumbnailKey(key)} {
		if err := a.client.RemoveObject(ctx, a.bucket, name, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func thumbnailKey(key string) string {
	return strings.TrimSuffix(key, filepath.Ext(key)) + "_thumb.jpg"
}

// Store uploads r under forum/<uuid>_<name>. Images also get a JPEG
// thumbnail next to the original; a thumbnail failure does not fail the upload.
func (a *Attachments) Store(ctx context.Context, name, contentType string, r io.Reader) (Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAttachmentBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Upload{}, domain.Validationf("file is empty")
	}
	if len(data) > MaxAttachmentBytes {
		return Upload{}, domain.Validationf("file exceeds %d bytes", MaxAttachmentBytes)
	}

	key := "forum/" + uuid.NewString() + "_" + sanitizeName(name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return Upload{}, fmt.Errorf("upload %s: %w", key, err)
	}
	out := Upload{FileRef: key, URL: a.URL(key)}

	if strings.HasPrefix(contentType, "image/") {
		thumbKey, err := a.makeThumbnail(ctx, key, data)
		if err != nil {
			commonlog.Warnf("event=hub_attachment action=thumbnail status=failed file_ref=%s error=%v", key, err)
		} else {
			out.ThumbnailRef = &thumbKey
		}
	}
	return out, nil
}

func (a *Attachments) makeThumbnail(ctx context.Context, key string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}

	thumbKey := thumbnailKey(key)
	reader := bytes.NewReader(buf.Bytes())
	if _, err := a.client.PutObject(ctx, a.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	return thumbKey, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
