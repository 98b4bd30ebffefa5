package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thobla/TempAISpotter/internal/registry"
	"github.com/Thobla/TempAISpotter/internal/verdict"
	"github.com/Thobla/TempAISpotter/pkg/storage/blobstore"
)

func newTestHandler(t *testing.T) (*HTTPHandler, *testEnv) {
	t.Helper()
	env := newTestEnv(t, analyzerReturning(&verdict.Verdict{Label: "real", Confidence: 0.92}, nil))
	return NewHTTPHandler(env.service, zaptest.NewLogger(t), 1<<20, 64<<10), env
}

func multipartUpload(t *testing.T, filename, contentType, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, h *HTTPHandler, filename, contentType, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, formContentType := multipartUpload(t, filename, contentType, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", formContentType)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleCreate(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doUpload(t, h, "clip.mp4", "video/mp4", strings.Repeat("x", 256), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var video registry.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &video))
	assert.Equal(t, int64(1), video.ID)
	assert.Equal(t, "clip.mp4", video.Name)
	assert.True(t, strings.HasPrefix(video.Locator, "Videos/"))
	assert.NotEqual(t, registry.StatusFailed, video.Status)
}

func TestHandleCreateMissingFile(t *testing.T) {
	h, _ := newTestHandler(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("name", "clip.mp4"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateUnsupportedType(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doUpload(t, h, "notes.txt", "text/plain", "hello", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported media type")
}

func TestHandleCreateDuplicateID(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doUpload(t, h, "a.mp4", "video/mp4", "aaa", map[string]string{"id": "7"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doUpload(t, h, "b.mp4", "video/mp4", "bbb", map[string]string{"id": "7"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGet(t *testing.T) {
	h, env := newTestHandler(t)
	v := env.upload(t, "clip.mp4", "data")

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/videos/%d", v.ID), nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got registry.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, v.ID, got.ID)
}

func TestHandleGetNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/42", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/notanumber", nil)
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleList(t *testing.T) {
	h, env := newTestHandler(t)
	env.upload(t, "a.mp4", "aaa")
	env.upload(t, "b.mp4", "bbb")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var list []registry.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestHandleDelete(t *testing.T) {
	h, env := newTestHandler(t)
	v := env.upload(t, "clip.mp4", "data")

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/videos/%d", v.ID), nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/videos/%d", v.ID), nil)
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteStorageFailure(t *testing.T) {
	dir := t.TempDir()
	inner, err := blobstore.New(blobstore.Config{Provider: "local", LocalDir: dir})
	require.NoError(t, err)

	service := NewService(Params{
		Store:          &failingDeleteStore{Store: inner},
		Registry:       registry.New(),
		Analyzer:       analyzerReturning(&verdict.Verdict{Label: "real"}, nil),
		Logger:         zaptest.NewLogger(t),
		InitialBackoff: time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		service.Close(ctx) //nolint:errcheck
	})
	h := NewHTTPHandler(service, zaptest.NewLogger(t), 1<<20, 64<<10)

	v, err := service.Create(context.Background(), strings.NewReader("data"), 4, UploadOptions{
		Filename: "clip.mp4", ContentType: "video/mp4",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/videos/%d", v.ID), nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// The record is still there for a retried delete.
	_, gerr := service.Get(v.ID)
	assert.NoError(t, gerr)
}

func TestHandleUpdateUnsupported(t *testing.T) {
	h, env := newTestHandler(t)
	v := env.upload(t, "clip.mp4", "data")

	req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/v1/videos/%d", v.ID), strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
