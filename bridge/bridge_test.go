// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/z5labs/staticserver/assets"
	"github.com/z5labs/staticserver/broker"
	"github.com/z5labs/staticserver/static"
	"github.com/z5labs/staticserver/upload"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// replyWith fulfils every event after delay with the output of f.
func replyWith(b *broker.Broker, rec *recorder, delay time.Duration, f func(Event) string) Consumer {
	return ConsumerFunc(func(ctx context.Context, ev Event) error {
		rec.record(ev)
		if f == nil {
			return nil
		}
		time.AfterFunc(delay, func() {
			b.Fulfil(ev.ID, f(ev))
		})
		return nil
	})
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	for name, content := range files {
		w, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler_ServeHTTP(t *testing.T) {
	t.Run("will respond with a timeout", func(t *testing.T) {
		t.Run("if the consumer never replies", func(t *testing.T) {
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 0, nil), Timeout(50*time.Millisecond))

			r := httptest.NewRequest(http.MethodPost, "/rn/echo", strings.NewReader(url.Values{"msg": {"hello"}}.Encode()))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			start := time.Now()
			h.ServeHTTP(w, r)

			require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
			require.Equal(t, http.StatusRequestTimeout, w.Code)
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))
			require.Equal(t, `{"msg":"timeout"}`, w.Body.String())
			require.Zero(t, b.Len())

			events := rec.all()
			require.Len(t, events, 1)
			require.Equal(t, "/rn/echo", events[0].URI)
			require.Equal(t, []string{"hello"}, events[0].Params["msg"])
			require.Equal(t, []string{}, events[0].Files)
		})
	})

	t.Run("will respond with the reply", func(t *testing.T) {
		t.Run("if the consumer replies before the timeout", func(t *testing.T) {
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 20*time.Millisecond, func(Event) string {
				return `{"msg":"hello-ack"}`
			}), Timeout(time.Second))

			r := httptest.NewRequest(http.MethodPost, "/rn/echo", strings.NewReader("msg=hello"))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, `{"msg":"hello-ack"}`, w.Body.String())
			require.Equal(t, "19", w.Header().Get("Content-Length"))
			require.Zero(t, b.Len())
		})

		t.Run("with the query string stripped from the uri", func(t *testing.T) {
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 0, func(ev Event) string {
				return ev.URI
			}))

			r := httptest.NewRequest(http.MethodGet, "/rn/echo?msg=hi&msg=there", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, "/rn/echo", w.Body.String())

			events := rec.all()
			require.Len(t, events, 1)
			require.Equal(t, []string{"hi", "there"}, events[0].Params["msg"])
		})

		t.Run("with a unique id per request", func(t *testing.T) {
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 5*time.Millisecond, func(ev Event) string {
				return ev.Params["n"][0]
			}))

			var wg sync.WaitGroup
			bodies := make([]string, 10)
			for i := range bodies {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					r := httptest.NewRequest(http.MethodGet, "/rn/n?n="+string(rune('a'+i)), nil)
					w := httptest.NewRecorder()
					h.ServeHTTP(w, r)
					bodies[i] = w.Body.String()
				}(i)
			}
			wg.Wait()

			for i, body := range bodies {
				require.Equal(t, string(rune('a'+i)), body)
			}

			ids := map[string]bool{}
			for _, ev := range rec.all() {
				ids[ev.ID] = true
			}
			require.Len(t, ids, 10)
		})
	})

	t.Run("will respond with an interrupt", func(t *testing.T) {
		t.Run("if the broker is closed while waiting", func(t *testing.T) {
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 0, nil), Timeout(time.Minute))
			time.AfterFunc(20*time.Millisecond, b.Close)

			r := httptest.NewRequest(http.MethodGet, "/rn/slow", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Equal(t, `{"msg":"interrupt"}`, w.Body.String())
		})

		t.Run("if the consumer fails to accept the event", func(t *testing.T) {
			b := broker.New()
			h := NewHandler(b, ConsumerFunc(func(context.Context, Event) error {
				return errors.New("queue unavailable")
			}), Timeout(time.Minute))

			r := httptest.NewRequest(http.MethodGet, "/rn/x", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Equal(t, `{"msg":"interrupt"}`, w.Body.String())
			require.Zero(t, b.Len())
		})

		t.Run("if the id is already pending", func(t *testing.T) {
			b := broker.New()
			_, err := b.Register("fixed")
			require.NoError(t, err)

			h := NewHandler(b, replyWith(b, &recorder{}, 0, nil), IDGenerator(func() string { return "fixed" }))

			r := httptest.NewRequest(http.MethodGet, "/rn/x", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusInternalServerError, w.Code)
		})
	})

	t.Run("will persist uploaded files", func(t *testing.T) {
		t.Run("and pass their paths with the event", func(t *testing.T) {
			dir := t.TempDir()
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(
				b,
				replyWith(b, rec, 0, func(ev Event) string { return `{"msg":"stored"}` }),
				Persist(upload.NewPersister(osfs.New(dir))),
			)

			body, contentType := multipartBody(t, map[string]string{"title": "x"}, map[string]string{"a.txt": "hello world"})
			r := httptest.NewRequest(http.MethodPost, "/rn/upload?q=1", body)
			r.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, `{"msg":"stored"}`, w.Body.String())

			events := rec.all()
			require.Len(t, events, 1)
			require.Equal(t, []string{filepath.Join(dir, "a.txt")}, events[0].Files)
			require.Equal(t, []string{"x"}, events[0].Params["title"])
			require.Equal(t, []string{"1"}, events[0].Params["q"])

			b2, err := os.ReadFile(events[0].Files[0])
			require.NoError(t, err)
			require.Equal(t, "hello world", string(b2))
		})

		t.Run("and acknowledge uploads outside the dynamic prefix immediately", func(t *testing.T) {
			dir := t.TempDir()
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 0, nil), Persist(upload.NewPersister(osfs.New(dir))), Timeout(time.Minute))

			body, contentType := multipartBody(t, nil, map[string]string{"b.bin": "bytes"})
			r := httptest.NewRequest(http.MethodPost, "/files", body)
			r.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, `{"msg":"ok"}`, w.Body.String())
			require.Zero(t, b.Len())

			events := rec.all()
			require.Len(t, events, 1)
			require.Equal(t, "/files", events[0].URI)
			require.Equal(t, []string{filepath.Join(dir, "b.bin")}, events[0].Files)
		})
	})

	t.Run("will pass through", func(t *testing.T) {
		t.Run("multipart bodies without files outside the dynamic prefix", func(t *testing.T) {
			b := broker.New()
			rec := &recorder{}
			h := NewHandler(b, replyWith(b, rec, 0, nil))

			body, contentType := multipartBody(t, map[string]string{"a": "b"}, nil)
			r := httptest.NewRequest(http.MethodPost, "/form", body)
			r.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusNotFound, w.Code)
			require.Empty(t, rec.all())
		})

		t.Run("to assets before the document root", func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("from root"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(root, "only-root.txt"), []byte("root only"), 0o644))

			b := broker.New()
			h := NewHandler(
				b,
				replyWith(b, &recorder{}, 0, nil),
				Assets(assets.NewResolver(fstest.MapFS{
					"www/index.html": &fstest.MapFile{Data: []byte("from assets")},
				})),
				Static(static.NewDelegate(http.Dir(root))),
			)

			testCases := []struct {
				target string
				body   string
			}{
				{target: "/index.html", body: "from assets"},
				{target: "/only-root.txt", body: "root only"},
			}
			for _, tc := range testCases {
				r := httptest.NewRequest(http.MethodGet, tc.target, nil)
				w := httptest.NewRecorder()

				h.ServeHTTP(w, r)

				require.Equal(t, http.StatusOK, w.Code, tc.target)
				require.Equal(t, tc.body, w.Body.String(), tc.target)
			}
		})
	})

	t.Run("will allow cross origin reads of pass through responses", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"), []byte("let a = 1"), 0o644))

		b := broker.New()
		rec := &recorder{}
		h := NewHandler(
			b,
			replyWith(b, rec, 0, nil),
			Static(static.NewDelegate(http.Dir(root))),
			CORS(static.AnyOrigin),
		)

		testCases := []struct {
			method string
			body   string
		}{
			{method: http.MethodGet, body: "let a = 1"},
			{method: http.MethodOptions, body: ""},
		}
		for _, tc := range testCases {
			r := httptest.NewRequest(tc.method, "/a.js", nil)
			r.Header.Set("Origin", "http://app.local")
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusOK, w.Code, tc.method)
			require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), tc.method)
			require.Equal(t, tc.body, w.Body.String(), tc.method)
		}
		require.Empty(t, rec.all())
	})

	t.Run("will survive a malformed multipart body", func(t *testing.T) {
		b := broker.New()
		rec := &recorder{}
		h := NewHandler(b, replyWith(b, rec, 0, func(Event) string { return `{"msg":"done"}` }))

		r := httptest.NewRequest(http.MethodPost, "/rn/upload", strings.NewReader("--abc\r\nnot really multipart"))
		r.Header.Set("Content-Type", "multipart/form-data; boundary=abc")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		events := rec.all()
		require.Len(t, events, 1)
		require.Equal(t, []string{}, events[0].Files)
	})
}
