package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atelier/api/internal/adminauth"
	"atelier/api/internal/email"
	"atelier/api/internal/ordering"
	"atelier/api/internal/search"
	"atelier/api/internal/store"
)

const adminSessionCookie = "admin_session"

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 64 << 20

type adminAuth interface {
	SignIn(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, token string) (bool, error)
	SignOut(ctx context.Context, token string) error
	SessionTTL() time.Duration
}

type HTTPServer struct {
	service    *Service
	auth       adminAuth
	corsOrigin string
}

func NewHTTPServer(service *Service, auth *adminauth.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, auth: auth, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes
	if r.URL.Path == "/api/auth" {
		switch r.Method {
		case http.MethodPost:
			s.handleSignIn(w, r)
		case http.MethodGet:
			s.handleAuthCheck(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		if cookie, err := r.Cookie(adminSessionCookie); err == nil && cookie.Value != "" {
			_ = s.auth.SignOut(r.Context(), cookie.Value)
		}
		clearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Public content routes
	if r.Method == http.MethodPost && r.URL.Path == "/api/model-page" {
		var body struct {
			Category            string `json:"category"`
			PrevSignedImageUrls string `json:"prevSignedImageUrls"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ModelPage(r.Context(), store.Category(body.Category), body.PrevSignedImageUrls)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/works" {
		works, err := s.service.Works(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if works == nil {
			works = []store.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"works": works})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/inquiries" {
		var body struct {
			Name          string `json:"name"`
			Email         string `json:"email"`
			Phone         string `json:"phone"`
			ContactMethod string `json:"contactMethod"`
			Position      string `json:"position"`
			Message       string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		err := s.service.SendInquiry(r.Context(), email.Inquiry{
			Name:          body.Name,
			Email:         body.Email,
			Phone:         body.Phone,
			ContactMethod: body.ContactMethod,
			Position:      body.Position,
			Message:       body.Message,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/models/{id}: GET serves the detail; POST carries the caller's
	// sealed previous URL cache in the body.
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "models" {
		id := parts[2]
		switch r.Method {
		case http.MethodGet:
			s.handleModelDetail(w, r, id, "")
			return
		case http.MethodPost:
			var body struct {
				PrevSignedImageUrls string `json:"prevSignedImageUrls"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.handleModelDetail(w, r, id, body.PrevSignedImageUrls)
			return
		case http.MethodPatch, http.MethodDelete:
			// fallthrough to the admin dispatch below
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
	}

	// Everything past this point mutates content and requires the admin
	// session cookie.
	if !s.requireAdmin(w, r) {
		return
	}

	if r.URL.Path == "/api/models" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateModel(w, r)
		case http.MethodPut:
			s.handleReorderModels(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "models" {
		id := parts[2]
		switch r.Method {
		case http.MethodPatch:
			s.handleUpdateModelField(w, r, id)
		case http.MethodDelete:
			if err := s.service.DeleteModel(r.Context(), id); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/model-detail-client" {
		s.handleModelDetailClient(w, r)
		return
	}

	if r.URL.Path == "/api/works" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateWork(w, r)
		case http.MethodPut:
			s.handleReorderWorks(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, err := s.auth.SignIn(r.Context(), body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     adminSessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.auth.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(adminSessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	ok, err := s.auth.Verify(r.Context(), cookie.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true})
}

func (s *HTTPServer) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(adminSessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	ok, err := s.auth.Verify(r.Context(), cookie.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return false
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	payload := s.service.Search(search.Query{
		Text:           q,
		FilterType:     search.ResultType(filterType),
		FilterCategory: category,
		Limit:          limit,
		Offset:         offset,
	})
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleModelDetail(w http.ResponseWriter, r *http.Request, id, prevSealed string) {
	payload, err := s.service.ModelDetail(r.Context(), id, prevSealed)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rec, err := s.service.CreateModel(r.Context(), body.Name, store.Category(body.Category))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"model": rec})
}

func (s *HTTPServer) handleUpdateModelField(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Field string           `json:"field"`
		Value store.FieldValue `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rec, err := s.service.UpdateModelField(r.Context(), id, body.Field, body.Value)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": rec})
}

func (s *HTTPServer) handleReorderModels(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category string         `json:"category"`
		Models   []store.Record `json:"models"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ordered, err := s.service.ReorderModels(r.Context(), store.Category(body.Category), body.Models)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if ordered == nil {
		ordered = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": ordered})
}

// handleModelDetailClient is the admin image round trip: delete removed
// files, upload new ones, and persist the next image list with any failed
// uploads dropped from it.
func (s *HTTPServer) handleModelDetailClient(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	modelID := strings.TrimSpace(r.FormValue("modelId"))
	if modelID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "modelId is required", nil)
		return
	}

	var deletedImages []string
	if raw := r.FormValue("deletedImages"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &deletedImages); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "deletedImages must be a JSON array", nil)
			return
		}
	}
	var nextImageList []string
	if raw := r.FormValue("nextImageList"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &nextImageList); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "nextImageList must be a JSON array", nil)
			return
		}
	}

	if len(deletedImages) > 0 {
		if err := s.service.DeleteImages(r.Context(), modelID, deletedImages); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["newImages"]
	}
	files := make([]UploadFile, 0, len(headers))
	var opened []multipart.File
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			log.Printf("app: open upload %s: %v", header.Filename, err)
			continue
		}
		opened = append(opened, file)
		files = append(files, UploadFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Reader:      file,
		})
	}
	defer func() {
		for _, file := range opened {
			_ = file.Close()
		}
	}()

	attempted := make(map[string]bool, len(files))
	for _, file := range files {
		attempted[file.Name] = true
	}

	result, err := s.service.UploadImages(r.Context(), modelID, files)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	uploaded := make(map[string]bool, len(result.Uploaded))
	for _, name := range result.Uploaded {
		uploaded[name] = true
	}

	// Keep a name when it was not part of this upload, or when its upload
	// succeeded. A failed upload must not enter the stored image list.
	finalImages := make([]string, 0, len(nextImageList))
	for _, name := range nextImageList {
		if attempted[name] && !uploaded[name] {
			continue
		}
		finalImages = append(finalImages, name)
	}

	rec, err := s.service.UpdateImages(r.Context(), modelID, finalImages)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	urls, err := s.service.urls.Resolve(r.Context(), modelID, finalImages, nil)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	sealed, err := s.service.box.Seal(urls)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not seal signed urls", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model":      rec,
		"signedUrls": sealed,
		"uploaded":   result.Uploaded,
	})
}

func (s *HTTPServer) handleCreateWork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rec, err := s.service.CreateWork(r.Context(), body.Title, body.URL)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"work": rec})
}

func (s *HTTPServer) handleReorderWorks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Works []store.Record `json:"works"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ordered, err := s.service.ReorderWorks(r.Context(), body.Works)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if ordered == nil {
		ordered = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"works": ordered})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, ordering.ErrIntegrityFault) {
		return http.StatusInternalServerError, "INTEGRITY_FAULT", "Record ordering is corrupted", nil
	}
	if errors.Is(err, adminauth.ErrInvalidPassword) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
