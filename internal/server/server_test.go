package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"detectweb/internal/config"
	"detectweb/internal/detector/detectortest"
	"detectweb/internal/domain"
	"detectweb/internal/handler"
	"detectweb/pkg/utils"
)

const sampleLabels = "67 0.1 0.2 0.3 0.4\n65 0.5 0.5 0.1 0.1\n0 0.2 0.2 0.2 0.2\n"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testApp struct {
	handler http.Handler
	det     *detectortest.Fake
	cfg     *config.Config
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		App: config.AppConfig{
			BaseDir:        root,
			UploadDir:      filepath.Join(root, "static", "uploads"),
			PredictionsDir: filepath.Join(root, "static", "predictions"),
			MaxUploadSize:  1 << 20,
			AllowedFormats: []string{".jpg", ".jpeg", ".png"},
			CountClasses:   []string{"67", "65"},
			CountMatch:     config.MatchPrefix,
			ResultHistory:  8,
		},
		Detector: config.DetectorConfig{
			Backend: config.BackendCLI,
			RunsDir: filepath.Join(root, "runs", "detect", "predict"),
		},
	}

	det := &detectortest.Fake{Dir: cfg.Detector.RunsDir, Labels: sampleLabels}
	srv, err := New(cfg, det, zap.NewNop())
	require.NoError(t, err)

	return &testApp{handler: srv.httpServer.Handler, det: det, cfg: cfg}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) get(path string) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil))
}

type part struct {
	field, filename string
	file            bool
	body            []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.file {
			fw, err := w.CreateFormFile(p.field, p.filename)
			require.NoError(t, err)
			_, err = fw.Write(p.body)
			require.NoError(t, err)
			continue
		}
		require.NoError(t, w.WriteField(p.field, string(p.body)))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (a *testApp) upload(t *testing.T, filename string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(multipartRequest(t, part{field: "image", filename: filename, file: true, body: body}))
}

func (a *testApp) slot(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(a.cfg.App.PredictionsDir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIndexWithoutPrediction(t *testing.T) {
	app := newTestApp(t)

	rec := app.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="image"`)
	assert.NotContains(t, rec.Body.String(), `src="/predictions"`)
}

func TestUploadRendersResult(t *testing.T) {
	app := newTestApp(t)

	rec := app.upload(t, "desk.jpg", []byte("jpeg-bytes"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Detected objects: <strong>2</strong>")
	assert.Contains(t, body, `src="/predictions"`)
	assert.Contains(t, body, "Original: desk.jpg")
	assert.Regexp(t, `src="/uploads/[0-9a-f-]{36}\.jpg"`, body)

	pred := app.get("/predictions")
	require.Equal(t, http.StatusOK, pred.Code)
	assert.Equal(t, "jpeg-bytes", pred.Body.String())
	assert.Equal(t, "image/jpeg", pred.Header().Get("Content-Type"))
}

func TestIndexShowsCurrentResultAfterUpload(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.upload(t, "desk.jpg", []byte("x")).Code)

	rec := app.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="/predictions"`)
	assert.Contains(t, rec.Body.String(), "Current result")
}

func TestUploadedFileIsServed(t *testing.T) {
	app := newTestApp(t)
	rec := app.upload(t, "desk.png", []byte("png-bytes"))
	require.Equal(t, http.StatusOK, rec.Code)

	name := regexp.MustCompile(`/uploads/([0-9a-f-]{36}\.png)`).FindStringSubmatch(rec.Body.String())
	require.Len(t, name, 2)

	file := app.get("/uploads/" + name[1])
	require.Equal(t, http.StatusOK, file.Code)
	assert.Equal(t, "png-bytes", file.Body.String())

	assert.Equal(t, http.StatusNotFound, app.get("/uploads/missing.png").Code)
}

func TestMissingFieldKeepsSlot(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.upload(t, "first.jpg", []byte("first")).Code)
	before := app.slot(t)

	rec := app.do(multipartRequest(t, part{field: "other", body: []byte("value")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), handler.MsgNoFilePart)
	assert.Contains(t, rec.Body.String(), `name="image"`)

	assert.Equal(t, before, app.slot(t))
	assert.Equal(t, "first", app.get("/predictions").Body.String())
	assert.Len(t, app.det.Calls(), 1)
}

func TestEmptyFilenameKeepsSlot(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.upload(t, "first.jpg", []byte("first")).Code)
	before := app.slot(t)

	rec := app.upload(t, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), handler.MsgNoFileSelected)

	assert.Equal(t, before, app.slot(t))
	assert.Len(t, app.det.Calls(), 1)
}

func TestNonMultipartUpload(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("raw"))
	req.Header.Set("Content-Type", "application/octet-stream")

	rec := app.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), handler.MsgNoFilePart)
}

func TestUploadRejectsFormatAndSize(t *testing.T) {
	app := newTestApp(t)

	rec := app.upload(t, "anim.gif", []byte("gif"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid file format")

	app.cfg.App.MaxUploadSize = 4
	rec = app.upload(t, "big.jpg", []byte("more than four bytes"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), handler.MsgFileTooLarge)

	assert.Empty(t, app.det.Calls())
}

func TestUploadWebPWithDecodableFormats(t *testing.T) {
	app := newTestApp(t)
	app.cfg.App.AllowedFormats = utils.DecodableFormats([]string{".jpg", ".png", ".webp"})

	rec := app.upload(t, "photo.webp", []byte("riff"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid file format")
	assert.Empty(t, app.det.Calls())

	require.Equal(t, http.StatusOK, app.upload(t, "photo.png", []byte("png")).Code)
	assert.Len(t, app.det.Calls(), 1)
}

func TestSecondUploadReplacesPrediction(t *testing.T) {
	app := newTestApp(t)

	require.Equal(t, http.StatusOK, app.upload(t, "first.jpg", []byte("first")).Code)
	require.Equal(t, http.StatusOK, app.upload(t, "second.jpg", []byte("second")).Code)

	assert.Len(t, app.slot(t), 1)
	assert.Equal(t, "second", app.get("/predictions").Body.String())
}

func TestPredictionsEmptySlot(t *testing.T) {
	app := newTestApp(t)

	rec := app.get("/predictions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No predicted file found.", rec.Body.String())
}

func TestUploadWithoutAnnotatedImage(t *testing.T) {
	app := newTestApp(t)
	app.det.SkipImage = true

	rec := app.upload(t, "desk.jpg", []byte("x"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no annotated image")
	assert.Contains(t, rec.Body.String(), "Detected objects: <strong>2</strong>")

	assert.Equal(t, http.StatusNotFound, app.get("/predictions").Code)
}

func TestDetectorFailureIsServerError(t *testing.T) {
	app := newTestApp(t)
	app.det.Err = errors.New("cannot identify image file")

	rec := app.upload(t, "broken.jpg", []byte("not an image"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), handler.MsgDetectionFailed)
}

func TestResultAPI(t *testing.T) {
	app := newTestApp(t)
	rec := app.upload(t, "desk.jpg", []byte("x"))
	require.Equal(t, http.StatusOK, rec.Code)

	id := regexp.MustCompile(`/api/results/([0-9a-f-]{36})`).FindStringSubmatch(rec.Body.String())
	require.Len(t, id, 2)

	res := app.get("/api/results/" + id[1])
	require.Equal(t, http.StatusOK, res.Code)

	var result domain.Result
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.Equal(t, id[1], result.ID)
	assert.Equal(t, "desk.jpg", result.OriginalName)
	assert.Equal(t, 2, result.Count)
	assert.Len(t, result.Detections, 3)

	assert.Equal(t, http.StatusNotFound, app.get("/api/results/unknown").Code)
}

func TestHealthAndStatic(t *testing.T) {
	app := newTestApp(t)

	rec := app.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, app.get("/static/style.css").Code)
}
