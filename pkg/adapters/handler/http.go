package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

const (
	maxBodyBytes   = 1 << 20
	defaultQRSize  = 256
	minQRSize      = 64
	maxQRSize      = 1024
	shortlinksPath = "/api/v1/shortlinks/"
)

type HTTPHandler struct {
	service  ports.LinkService
	resolver ports.Resolver
}

func NewHTTPHandler(service ports.LinkService, resolver ports.Resolver) *HTTPHandler {
	return &HTTPHandler{service: service, resolver: resolver}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.BadRequest("Request body must be valid JSON: " + err.Error())
	}
	return nil
}

// Create a short link
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.LinkInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.service.Create(r.Context(), in, OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", shortlinksPath+view.ShortID)
	writeJSON(w, http.StatusOK, view)
}

// CreateBulk answers 200 when every item was created and 207 otherwise.
// Each element is either a link view or an error body, in request order.
func (h *HTTPHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var raw []json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil || len(raw) == 0 {
		writeError(w, r, domain.BadRequest("Request body must be a non-empty array of shortlinks"))
		return
	}

	inputs := make([]domain.LinkInput, len(raw))
	malformed := make([]bool, len(raw))
	for i, item := range raw {
		if err := json.Unmarshal(item, &inputs[i]); err != nil {
			malformed[i] = true
		}
	}

	results, err := h.service.CreateBulk(r.Context(), inputs, OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	body := make([]any, len(results))
	for i, res := range results {
		switch {
		case malformed[i]:
			// the zero input already failed validation; name the real problem
			body[i] = errorResponse(domain.BadRequest("Item must be a JSON object"))
			status = http.StatusMultiStatus
		case res.Err != nil:
			body[i] = errorResponse(res.Err)
			status = http.StatusMultiStatus
		default:
			body[i] = res.Link
		}
	}
	writeJSON(w, status, body)
}

func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), r.PathValue("shortID"), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.LinkPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.service.Update(r.Context(), r.PathValue("shortID"), OwnerFromContext(r.Context()), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", shortlinksPath+view.ShortID)
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), r.PathValue("shortID"), OwnerFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QRCode renders the composed short link as a PNG.
func (h *HTTPHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	size := defaultQRSize
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minQRSize || n > maxQRSize {
			writeError(w, r, domain.BadRequest("Invalid QR code size", domain.FieldError{
				Code:    domain.CodeInvalid,
				Field:   "size",
				Message: "must be an integer between 64 and 1024",
			}))
			return
		}
		size = n
	}

	view, err := h.service.Get(r.Context(), r.PathValue("shortID"), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	png, err := qrcode.Encode(view.Link, qrcode.Medium, size)
	if err != nil {
		writeError(w, r, domain.Internal(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

// Redirect sends visitors to the destination with a permanent redirect.
func (h *HTTPHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	destination, err := h.resolver.Resolve(r.Context(), r.PathValue("shortID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, destination, http.StatusMovedPermanently)
}

// NotFound answers unknown /api/ endpoints.
func (h *HTTPHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, domain.NotFound("The endpoint (%s) %s could not be found", r.Method, r.URL.Path))
}
