// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package upload streams files out of multipart request bodies and
// persists them into the upload directory.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/z5labs/staticserver/internal/try"

	"github.com/go-git/go-billy/v5"
)

// UploadedFile is a single file part of a multipart body. Body is only
// readable until the next part is requested.
type UploadedFile struct {
	FieldName string
	Filename  string
	Body      io.Reader
}

// IsMultipart reports whether the request carries a multipart body.
func IsMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "multipart/")
}

// MalformedBodyError is returned when the multipart body can not be parsed.
type MalformedBodyError struct {
	Cause error
}

// Error implements the [error] interface.
func (e MalformedBodyError) Error() string {
	return fmt.Sprintf("malformed multipart body: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e MalformedBodyError) Unwrap() error {
	return e.Cause
}

// ErrFormTooLarge is returned when the non-file fields exceed the configured limit.
var ErrFormTooLarge = errors.New("upload: form values too large")

// DefaultMaxFormValueBytes bounds the total size of all non-file fields.
const DefaultMaxFormValueBytes = 10 << 20

// Collector walks the parts of a multipart body in order.
type Collector struct {
	maxFormValueBytes int64
}

// CollectorOption configures a [Collector].
type CollectorOption func(*Collector)

// MaxFormValueBytes overrides [DefaultMaxFormValueBytes].
func MaxFormValueBytes(n int64) CollectorOption {
	return func(c *Collector) {
		c.maxFormValueBytes = n
	}
}

// NewCollector returns a configured [Collector].
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		maxFormValueBytes: DefaultMaxFormValueBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect hands every file part of the request body to fn, in body order,
// and returns the remaining non-file fields. Files are never buffered.
//
// Errors returned by fn stop the walk and are returned as is. Everything
// wrong with the body itself is reported as a [MalformedBodyError].
func (c *Collector) Collect(r *http.Request, fn func(UploadedFile) error) (url.Values, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, MalformedBodyError{Cause: err}
	}

	form := make(url.Values)
	remaining := c.maxFormValueBytes
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			return form, MalformedBodyError{Cause: err}
		}

		name := part.FormName()
		filename := part.FileName()
		if filename == "" {
			b, err := io.ReadAll(io.LimitReader(part, remaining+1))
			part.Close()
			if err != nil {
				return form, MalformedBodyError{Cause: err}
			}
			remaining -= int64(len(b))
			if remaining < 0 {
				return form, ErrFormTooLarge
			}
			form.Add(name, string(b))
			continue
		}

		err = fn(UploadedFile{
			FieldName: name,
			Filename:  filename,
			Body:      part,
		})
		part.Close()
		if err != nil {
			return form, err
		}
	}
}

// Persister writes uploaded files into a directory.
type Persister struct {
	fs billy.Filesystem
}

// NewPersister returns a [Persister] writing into the root of fs.
func NewPersister(fs billy.Filesystem) *Persister {
	return &Persister{fs: fs}
}

// InvalidFilenameError is returned for filenames which do not name a file.
type InvalidFilenameError struct {
	Filename string
}

// Error implements the [error] interface.
func (e InvalidFilenameError) Error() string {
	return fmt.Sprintf("invalid upload filename: %q", e.Filename)
}

// Persist writes f to <directory>/<filename> and returns its full path.
//
// Only the base name of the client supplied filename is used. Two uploads
// with the same name overwrite each other, the last one written wins.
// A file which could not be written completely is removed.
func (p *Persister) Persist(f UploadedFile) (_ string, err error) {
	name := path.Base(strings.ReplaceAll(f.Filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return "", InvalidFilenameError{Filename: f.Filename}
	}

	dst, err := p.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	// Runs after the close below so a failed write leaves nothing behind.
	defer func() {
		if err != nil {
			p.fs.Remove(name)
		}
	}()
	defer try.Close(&err, dst)

	_, err = io.Copy(dst, f.Body)
	if err != nil {
		return "", err
	}
	return p.fs.Join(p.fs.Root(), name), nil
}
