package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/records"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/storage"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rubenfonseca/fastimage"
)

// Form fields of /predict, in the order in which they are reported when missing
var predictFields = []string{"doctor_email", "name", "surname", "age", "mobile"}

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

type predictResponse struct {
	Prediction          string  `json:"prediction"`
	PneumoniaPercentage string  `json:"pneumonia_percentage"`
	NormalPercentage    string  `json:"normal_percentage"`
	SaliencyMapURL      string  `json:"saliency_map_url"`
	ImageURL            string  `json:"image_url"`
	ModelUsed           string  `json:"model_used"`
	Confidence          float64 `json:"confidence"`
	Saved               bool    `json:"saved"`
	RecordID            int64   `json:"record_id,omitempty"`
}

func (s *Server) httpPredict(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	maxBytes := int64(s.Config.MaxUploadMB) * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(8 * 1024 * 1024); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			www.PanicBadRequestf("Upload is larger than %v MB", s.Config.MaxUploadMB)
		} else if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			www.PanicBadRequestf("No file part")
		}
		www.PanicBadRequestf("Invalid form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	// 1. Validate everything before writing anything

	files := r.MultipartForm.File["imagefile"]
	if len(files) == 0 {
		// A file part with an empty filename is parsed as a plain value
		if _, ok := r.MultipartForm.Value["imagefile"]; ok {
			www.PanicBadRequestf("No selected file")
		}
		www.PanicBadRequestf("No file part")
	}
	header := files[0]
	if header.Filename == "" {
		www.PanicBadRequestf("No selected file")
	}
	if !allowedFile(header.Filename) {
		www.PanicBadRequestf("File type not allowed. Only images are accepted.")
	}

	missing := []string{}
	for _, field := range predictFields {
		if strings.TrimSpace(formValue(r, field)) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) != 0 {
		www.PanicBadRequestf("Missing fields: %v", strings.Join(missing, ", "))
	}
	age, err := strconv.Atoi(strings.TrimSpace(formValue(r, "age")))
	if err != nil {
		www.PanicBadRequestf("Age must be an integer")
	}

	upload, err := header.Open()
	www.Check(err)
	raw, err := io.ReadAll(upload)
	upload.Close()
	www.Check(err)

	imgType, size, err := fastimage.DetectImageTypeFromReader(bytes.NewReader(raw))
	if err != nil || size == nil {
		www.PanicBadRequestf("File content is not a recognized image")
	}
	// Compressed size says nothing about decoded size, so check before decoding
	if uint64(size.Width)*uint64(size.Height) > uint64(s.Config.MaxImagePixels) {
		www.PanicBadRequestf("Image is too large (%v x %v). The limit is %v pixels", size.Width, size.Height, s.Config.MaxImagePixels)
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		www.PanicBadRequestf("Unable to decode image: %v", err)
	}
	s.Log.Infof("Predict: %v (%v, %v x %v)", header.Filename, imgType, size.Width, size.Height)

	// 2. Inference

	result, err := s.Analyzer.Analyze(img)
	if err != nil {
		s.Log.Errorf("Prediction failed for %v: %v", header.Filename, err)
		www.PanicServerError("Prediction failed")
	}

	// 3. Artifacts

	imageName := uuid.New().String() + "_" + sanitizeFilename(header.Filename)
	saliencyName := strings.TrimSuffix(imageName, filepath.Ext(imageName)) + "_saliency.png"
	imageKey := storage.ImagesDir + "/" + imageName
	saliencyKey := storage.SaliencyDir + "/" + saliencyName

	overlayPNG := bytes.Buffer{}
	www.Check(imaging.Encode(&overlayPNG, result.Overlay, imaging.PNG))

	if err := storage.WriteFile(s.Storage, imageKey, bytes.NewReader(raw)); err != nil {
		s.Log.Errorf("Failed to write %v: %v", imageKey, err)
		s.Storage.DeleteFile(imageKey)
		www.PanicServerError("Failed to save image")
	}
	if err := storage.WriteFile(s.Storage, saliencyKey, &overlayPNG); err != nil {
		s.Log.Errorf("Failed to write %v: %v", saliencyKey, err)
		s.Storage.DeleteFile(saliencyKey)
		s.Storage.DeleteFile(imageKey)
		www.PanicServerError("Failed to save saliency map")
	}

	base := baseURL(r)
	d := result.Decision
	resp := predictResponse{
		Prediction:          d.Label,
		PneumoniaPercentage: d.PneumoniaString(),
		NormalPercentage:    d.NormalString(),
		SaliencyMapURL:      base + "/static/" + storage.SaliencyDir + "/" + url.PathEscape(saliencyName),
		ImageURL:            base + "/static/" + storage.ImagesDir + "/" + url.PathEscape(imageName),
		ModelUsed:           d.ModelUsed,
		Confidence:          d.Confidence,
	}

	// 4. Record. The prediction is still returned if this fails.

	rec := records.Record{
		DoctorEmail:         strings.TrimSpace(formValue(r, "doctor_email")),
		Name:                formValue(r, "name"),
		Surname:             formValue(r, "surname"),
		Age:                 age,
		MobileNo:            formValue(r, "mobile"),
		Prediction:          resp.Prediction,
		ModelUsed:           resp.ModelUsed,
		Confidence:          resp.Confidence,
		PneumoniaPercentage: resp.PneumoniaPercentage,
		NormalPercentage:    resp.NormalPercentage,
		Date:                dbh.MakeIntTime(time.Now()),
		SaliencyMapURL:      resp.SaliencyMapURL,
		ImageURL:            resp.ImageURL,
	}
	if err := s.Records.Add(&rec); err != nil {
		s.Log.Errorf("Failed to save record for %v: %v", rec.DoctorEmail, err)
	} else {
		resp.Saved = true
		resp.RecordID = rec.ID
	}

	www.SendJSON(w, &resp)
}

// formValue reads a field from the multipart body only. Unlike r.FormValue, it
// ignores the URL query.
func formValue(r *http.Request, field string) string {
	if v := r.MultipartForm.Value[field]; len(v) != 0 {
		return v[0]
	}
	return ""
}

func allowedFile(filename string) bool {
	dot := strings.LastIndexByte(filename, '.')
	if dot == -1 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[dot+1:])]
}

// sanitizeFilename reduces a client supplied filename to a safe base name
func sanitizeFilename(filename string) string {
	// Browsers on Windows may send the full path
	filename = filename[strings.LastIndexAny(filename, `/\`)+1:]
	clean := strings.Builder{}
	for _, c := range filename {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_' {
			clean.WriteRune(c)
		} else {
			clean.WriteRune('_')
		}
	}
	name := strings.ReplaceAll(strings.TrimLeft(clean.String(), "._"), "..", "_")
	if filepath.Ext(name) == "" || name == filepath.Ext(name) {
		name = "upload" + strings.ToLower(filepath.Ext(filename))
	}
	return name
}

// baseURL is the scheme and host that the client used to reach us, eg "https://xray.example.com"
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host
}
