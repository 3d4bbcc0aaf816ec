package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Source resolves an attachment on demand.
type Source interface {
	Resolve(ctx context.Context) (domain.Media, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (domain.Media, error)

// Resolve implements Source.
func (f SourceFunc) Resolve(ctx context.Context) (domain.Media, error) {
	return f(ctx)
}

// Local returns a source for a file under dir. name is always resolved
// inside dir.
func Local(dir, name string, maxBytes int64) Source {
	return SourceFunc(func(ctx context.Context) (domain.Media, error) {
		return LoadLocal(dir, name, maxBytes)
	})
}

// LoadLocal reads a file under dir.
func LoadLocal(dir, name string, maxBytes int64) (domain.Media, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Media{}, errors.New("file is required")
	}
	full := filepath.Join(dir, filepath.Clean(string(filepath.Separator)+name))

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Media{}, fmt.Errorf("file %s not found", name)
		}
		return domain.Media{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return domain.Media{}, fmt.Errorf("%s is a directory", name)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return domain.Media{}, ErrTooLarge
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return domain.Media{}, fmt.Errorf("read %s: %w", name, err)
	}
	return domain.Media{
		Data:     data,
		MimeType: detectMimeType(full, data),
		FileName: filepath.Base(full),
	}, nil
}

// Upload returns a source for a multipart file. title, when set, replaces the
// uploaded file name.
func Upload(fh *multipart.FileHeader, title string, maxBytes int64) Source {
	return SourceFunc(func(ctx context.Context) (domain.Media, error) {
		if fh == nil {
			return domain.Media{}, errors.New("file is required")
		}
		if maxBytes > 0 && fh.Size > maxBytes {
			return domain.Media{}, ErrTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return domain.Media{}, fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()

		data, err := readLimited(f, maxBytes)
		if err != nil {
			return domain.Media{}, err
		}

		mimeType := fh.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(mimeType); err == nil && mt != "application/octet-stream" {
			mimeType = mt
		} else {
			mimeType = detectMimeType(fh.Filename, data)
		}

		fileName := strings.TrimSpace(title)
		if fileName == "" {
			fileName = fh.Filename
		}
		if fileName == "" {
			fileName = DefaultFileName
		}
		return domain.Media{Data: data, MimeType: mimeType, FileName: fileName}, nil
	})
}

func detectMimeType(name string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
		return mt
	}
	return http.DetectContentType(data)
}
