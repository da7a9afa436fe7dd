package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/diagnosis"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/diagnosis/diagnosistest"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/triage"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/records"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	root string // Filesystem storage root
}

func newTestServer(t *testing.T, probability float32, modify func(cfg *Config)) *testServer {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DB = dbh.MakeSqliteConfig(filepath.Join(dir, "records.sqlite"))
	cfg.Storage.Filesystem.Root = filepath.Join(dir, "static")
	if modify != nil {
		modify(cfg)
	}
	require.NoError(t, cfg.Validate())
	s, err := NewServer(logs.NewTestingLog(t), cfg, diagnosistest.NewFakeClassifier(probability), &diagnosistest.FakePolicy{Action: 1})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &testServer{Server: s, root: cfg.Storage.Filesystem.Root}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) artifactCount(t *testing.T) int {
	n := 0
	filepath.Walk(ts.root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}
	buf := bytes.Buffer{}
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func validFields() map[string]string {
	return map[string]string{
		"doctor_email": "house@clinic.org",
		"name":         "Jane",
		"surname":      "Doe",
		"age":          "42",
		"mobile":       "555-0100",
	}
}

// predictRequest builds a multipart request. If filename is "-", no file part is added.
func predictRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	body := bytes.Buffer{}
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "-" {
		fw, err := mw.CreateFormFile("imagefile", filename)
		require.NoError(t, err)
		fw.Write(content)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, code int, message string) {
	require.Equal(t, code, w.Code, w.Body.String())
	require.Equal(t, message, decode[errorResponse](t, w).Error)
}

func TestPredict(t *testing.T) {
	ts := newTestServer(t, 0.815, nil)
	img := pngBytes(t, 48, 40)
	w := ts.do(predictRequest(t, validFields(), "chest xray.png", img))
	require.Equal(t, 200, w.Code, w.Body.String())

	resp := decode[predictResponse](t, w)
	require.Equal(t, "PNEUMONIA", resp.Prediction)
	require.Equal(t, triage.ModelCNN, resp.ModelUsed)
	require.Equal(t, "81.50", resp.PneumoniaPercentage)
	require.Equal(t, "18.50", resp.NormalPercentage)
	require.InDelta(t, 81.5, resp.Confidence, 1e-4)
	require.True(t, resp.Saved)
	require.NotEqual(t, int64(0), resp.RecordID)
	require.True(t, strings.HasPrefix(resp.ImageURL, "http://example.com/static/images/"), resp.ImageURL)
	require.True(t, strings.HasSuffix(resp.ImageURL, "_chest_xray.png"), resp.ImageURL)
	require.True(t, strings.HasPrefix(resp.SaliencyMapURL, "http://example.com/static/saliency_folder/"), resp.SaliencyMapURL)
	require.True(t, strings.HasSuffix(resp.SaliencyMapURL, "_chest_xray_saliency.png"), resp.SaliencyMapURL)
	require.Equal(t, 2, ts.artifactCount(t))

	// Record
	recs, err := ts.Records.List("house@clinic.org")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.Equal(t, resp.RecordID, rec.ID)
	require.Equal(t, "Jane", rec.Name)
	require.Equal(t, "Doe", rec.Surname)
	require.Equal(t, 42, rec.Age)
	require.Equal(t, "555-0100", rec.MobileNo)
	require.Equal(t, "PNEUMONIA", rec.Prediction)
	require.Equal(t, "81.50", rec.PneumoniaPercentage)
	require.Equal(t, resp.ImageURL, rec.ImageURL)
	require.Equal(t, resp.SaliencyMapURL, rec.SaliencyMapURL)
	require.False(t, rec.Date.IsZero())

	// The original upload is served back byte for byte
	w = ts.do(httptest.NewRequest("GET", strings.TrimPrefix(resp.ImageURL, "http://example.com"), nil))
	require.Equal(t, 200, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.Equal(t, img, w.Body.Bytes())

	// The overlay is a PNG at the network resolution
	w = ts.do(httptest.NewRequest("GET", strings.TrimPrefix(resp.SaliencyMapURL, "http://example.com"), nil))
	require.Equal(t, 200, w.Code)
	overlay, err := imaging.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 32, overlay.Bounds().Dx())
	require.Equal(t, 32, overlay.Bounds().Dy())
}

func TestPredictPolicyFallback(t *testing.T) {
	ts := newTestServer(t, 0.55, nil)
	w := ts.do(predictRequest(t, validFields(), "x.jpg", pngBytes(t, 16, 16)))
	require.Equal(t, 200, w.Code, w.Body.String())
	resp := decode[predictResponse](t, w)
	require.Equal(t, triage.ModelPolicy, resp.ModelUsed)
	require.Equal(t, "Pneumonia", resp.Prediction)
	require.Equal(t, "55.00", resp.PneumoniaPercentage)
}

func TestPredictForwardedProto(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	req := predictRequest(t, validFields(), "x.png", pngBytes(t, 16, 16))
	req.Header.Set("X-Forwarded-Proto", "https")
	w := ts.do(req)
	require.Equal(t, 200, w.Code, w.Body.String())
	resp := decode[predictResponse](t, w)
	require.True(t, strings.HasPrefix(resp.ImageURL, "https://example.com/"), resp.ImageURL)
}

func TestPredictRejectsNonImage(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)

	w := ts.do(predictRequest(t, validFields(), "notes.txt", []byte("hello")))
	requireError(t, w, 400, "File type not allowed. Only images are accepted.")

	// Right extension, wrong content
	w = ts.do(predictRequest(t, validFields(), "notes.png", []byte("hello, this is not a png at all")))
	require.Equal(t, 400, w.Code, w.Body.String())

	require.Equal(t, 0, ts.artifactCount(t))
	recs, err := ts.Records.ListAll()
	require.NoError(t, err)
	require.Len(t, recs, 0)
}

func TestPredictValidation(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	img := pngBytes(t, 16, 16)

	fields := validFields()
	delete(fields, "doctor_email")
	requireError(t, ts.do(predictRequest(t, fields, "x.png", img)), 400, "Missing fields: doctor_email")

	fields = validFields()
	delete(fields, "doctor_email")
	fields["age"] = "   "
	requireError(t, ts.do(predictRequest(t, fields, "x.png", img)), 400, "Missing fields: doctor_email, age")

	fields = validFields()
	fields["age"] = "forty"
	requireError(t, ts.do(predictRequest(t, fields, "x.png", img)), 400, "Age must be an integer")

	requireError(t, ts.do(predictRequest(t, validFields(), "-", nil)), 400, "No file part")
	requireError(t, ts.do(predictRequest(t, validFields(), "", img)), 400, "No selected file")

	// Not multipart at all
	req := httptest.NewRequest("POST", "/predict", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	requireError(t, ts.do(req), 400, "No file part")

	require.Equal(t, 0, ts.artifactCount(t))
}

func TestPredictUploadLimit(t *testing.T) {
	ts := newTestServer(t, 0.9, func(cfg *Config) {
		cfg.MaxUploadMB = 1
	})
	big := make([]byte, 2*1024*1024)
	w := ts.do(predictRequest(t, validFields(), "x.png", big))
	require.Equal(t, 400, w.Code, w.Body.String())
}

func TestPredictRejectsHugeDimensions(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)

	// A valid PNG whose header claims 50000 x 50000. Decoding would need about 10 GB.
	img := pngBytes(t, 16, 16)
	binary.BigEndian.PutUint32(img[16:20], 50000)
	binary.BigEndian.PutUint32(img[20:24], 50000)
	w := ts.do(predictRequest(t, validFields(), "x.png", img))
	requireError(t, w, 400, "Image is too large (50000 x 50000). The limit is 67108864 pixels")
	require.Equal(t, 0, ts.artifactCount(t))

	ts = newTestServer(t, 0.9, func(cfg *Config) {
		cfg.MaxImagePixels = 200
	})
	require.Equal(t, 400, ts.do(predictRequest(t, validFields(), "x.png", pngBytes(t, 16, 16))).Code)
	require.Equal(t, 200, ts.do(predictRequest(t, validFields(), "x.png", pngBytes(t, 10, 10))).Code)
}

func TestPredictIgnoresQueryFields(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	img := pngBytes(t, 16, 16)

	fields := validFields()
	delete(fields, "doctor_email")
	req := predictRequest(t, fields, "x.png", img)
	req.URL.RawQuery = "doctor_email=mallory%40example.com"
	requireError(t, ts.do(req), 400, "Missing fields: doctor_email")

	req = predictRequest(t, validFields(), "x.png", img)
	req.URL.RawQuery = "doctor_email=mallory%40example.com&name=Eve"
	require.Equal(t, 200, ts.do(req).Code)
	recs, err := ts.Records.ListAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "house@clinic.org", recs[0].DoctorEmail)
	require.Equal(t, "Jane", recs[0].Name)
}

func TestPredictRecordFailure(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	ts.Records.Close()
	w := ts.do(predictRequest(t, validFields(), "x.png", pngBytes(t, 16, 16)))
	require.Equal(t, 200, w.Code, w.Body.String())
	resp := decode[predictResponse](t, w)
	require.False(t, resp.Saved)
	require.Equal(t, int64(0), resp.RecordID)
	require.Equal(t, "PNEUMONIA", resp.Prediction)

	requireError(t, ts.do(httptest.NewRequest("GET", "/history", nil)), 500, "Unable to fetch history")
}

func TestPredictRateLimit(t *testing.T) {
	ts := newTestServer(t, 0.9, func(cfg *Config) {
		cfg.PredictRateLimit = 1
	})
	img := pngBytes(t, 16, 16)
	require.Equal(t, 200, ts.do(predictRequest(t, validFields(), "x.png", img)).Code)
	require.Equal(t, http.StatusTooManyRequests, ts.do(predictRequest(t, validFields(), "x.png", img)).Code)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	img := pngBytes(t, 16, 16)
	fields := validFields()
	require.Equal(t, 200, ts.do(predictRequest(t, fields, "a.png", img)).Code)
	fields["doctor_email"] = "wilson@clinic.org"
	require.Equal(t, 200, ts.do(predictRequest(t, fields, "b.png", img)).Code)

	w := ts.do(httptest.NewRequest("GET", "/history", nil))
	require.Equal(t, 200, w.Code)
	require.Len(t, decode[[]records.Record](t, w), 2)

	w = ts.do(httptest.NewRequest("GET", "/history?doctor_email=wilson@clinic.org", nil))
	require.Equal(t, 200, w.Code)
	recs := decode[[]records.Record](t, w)
	require.Len(t, recs, 1)
	require.Equal(t, "wilson@clinic.org", recs[0].DoctorEmail)

	// Empty history is an empty array, not null
	w = ts.do(httptest.NewRequest("GET", "/infos/nobody@clinic.org", nil))
	require.Equal(t, 200, w.Code)
	require.Equal(t, "[]", w.Body.String())
}

func TestRecordCRUD(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	email := "house@clinic.org"

	body := `{"name": "Greg", "surname": "House", "age": 50, "mobile_no": "1", "prediction": "NORMAL", "doctor_email": "someone@else.org"}`
	w := ts.do(httptest.NewRequest("POST", "/add/"+email, strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[records.Record](t, w)
	require.Equal(t, email, added.DoctorEmail)
	require.NotEqual(t, int64(0), added.ID)

	w = ts.do(httptest.NewRequest("GET", "/infos/"+email, nil))
	require.Equal(t, 200, w.Code)
	require.Len(t, decode[[]records.Record](t, w), 1)

	id := strconv.FormatInt(added.ID, 10)
	w = ts.do(httptest.NewRequest("PUT", "/update/"+email+"/"+id, strings.NewReader(`{"age": 51}`)))
	require.Equal(t, 200, w.Code, w.Body.String())
	updated := decode[records.Record](t, w)
	require.Equal(t, 51, updated.Age)
	require.Equal(t, "Greg", updated.Name)

	// Another doctor cannot see or touch the record
	w = ts.do(httptest.NewRequest("PUT", "/update/wilson@clinic.org/"+id, strings.NewReader(`{"age": 1}`)))
	require.Equal(t, 404, w.Code)
	require.Equal(t, "Record not found", decode[messageResponse](t, w).Message)
	w = ts.do(httptest.NewRequest("DELETE", "/delete/wilson@clinic.org/"+id, nil))
	require.Equal(t, 404, w.Code)

	w = ts.do(httptest.NewRequest("DELETE", "/delete/"+email+"/"+id, nil))
	require.Equal(t, 200, w.Code)
	require.Equal(t, "Record deleted", decode[messageResponse](t, w).Message)

	w = ts.do(httptest.NewRequest("DELETE", "/delete/"+email+"/"+id, nil))
	require.Equal(t, 404, w.Code)

	// Malformed JSON
	w = ts.do(httptest.NewRequest("POST", "/add/"+email, strings.NewReader("{")))
	require.Equal(t, 400, w.Code)
}

func TestStaticNotFound(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)
	requireError(t, ts.do(httptest.NewRequest("GET", "/static/images/nothing.png", nil)), 404, "File not found")
	requireError(t, ts.do(httptest.NewRequest("GET", "/static/saliency_folder/..x.png", nil)), 404, "File not found")
}

func TestMisc(t *testing.T) {
	ts := newTestServer(t, 0.9, nil)

	w := ts.do(httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, w.Code)
	require.Equal(t, "healthy", decode[map[string]string](t, w)["status"])
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(httptest.NewRequest("OPTIONS", "/predict", nil))
	require.Equal(t, 200, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	requireError(t, ts.do(httptest.NewRequest("GET", "/nope", nil)), 404, "Not found")

	require.Equal(t, 200, ts.do(predictRequest(t, validFields(), "x.png", pngBytes(t, 16, 16))).Code)
	w = ts.do(httptest.NewRequest("GET", "/stats", nil))
	require.Equal(t, 200, w.Code)
	require.Equal(t, int64(1), decode[diagnosis.TimingSummary](t, w).Analyses)
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "chest_xray.png", sanitizeFilename("chest xray.png"))
	require.Equal(t, "x.jpeg", sanitizeFilename(`C:\Users\me\x.jpeg`))
	require.Equal(t, "passwd.png", sanitizeFilename("../../etc/passwd.png"))
	require.Equal(t, "upload.png", sanitizeFilename("..png"))
	require.True(t, allowedFile("A.JPG"))
	require.False(t, allowedFile("a.bmp"))
	require.False(t, allowedFile("png"))
}
