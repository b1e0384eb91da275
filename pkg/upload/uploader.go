package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind 媒体类别
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

var (
	// ErrInvalidData 输入不是合法的data URI或类型不匹配
	ErrInvalidData = errors.New("invalid media data")
	// ErrTooLarge 超过大小限制
	ErrTooLarge = errors.New("media too large")
)

// Uploader 媒体上传协作方：把客户端提交的媒体转为稳定的可访问地址
type Uploader interface {
	Upload(ctx context.Context, data string, kind Kind) (string, error)
}

var extByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"audio/webm": ".webm",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/mp4":  ".m4a",
}

// LocalUploader 写入本地目录，通过静态路由对外提供
type LocalUploader struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocalUploader 创建本地上传器并确保目录存在
func NewLocalUploader(dir, baseURL string, maxBytes int64) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

// Upload 接受 data:<mime>;base64,<payload>；已是http(s)地址的直接返回
func (u *LocalUploader) Upload(ctx context.Context, data string, kind Kind) (string, error) {
	if strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		return data, nil
	}

	mime, payload, err := parseDataURI(data)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mime, string(kind)+"/") {
		return "", fmt.Errorf("%w: %s is not %s", ErrInvalidData, mime, kind)
	}
	ext, ok := extByMIME[mime]
	if !ok {
		return "", fmt.Errorf("%w: unsupported type %s", ErrInvalidData, mime)
	}

	if u.maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > u.maxBytes+2 {
		return "", ErrTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if u.maxBytes > 0 && int64(len(raw)) > u.maxBytes {
		return "", ErrTooLarge
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + ext
	sub := filepath.Join(u.dir, string(kind))
	if err := os.MkdirAll(sub, 0755); err != nil {
		return "", fmt.Errorf("创建上传目录失败: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(sub, name), raw); err != nil {
		return "", fmt.Errorf("写入媒体文件失败: %w", err)
	}
	return u.baseURL + "/" + string(kind) + "/" + name, nil
}

func parseDataURI(data string) (mime, payload string, err error) {
	rest, ok := strings.CutPrefix(data, "data:")
	if !ok {
		return "", "", fmt.Errorf("%w: missing data: prefix", ErrInvalidData)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: missing payload", ErrInvalidData)
	}
	mime, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", fmt.Errorf("%w: only base64 data URIs are supported", ErrInvalidData)
	}
	// audio/webm;codecs=opus 之类的参数
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(mime), payload, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := bytes.NewReader(data).WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
