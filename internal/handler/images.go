package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// ImageHandler serves the image API.
type ImageHandler struct {
	images         *service.ImageRegistry
	thumbs         *service.ThumbnailCache
	maxUploadBytes int64
}

func NewImageHandler(images *service.ImageRegistry, thumbs *service.ThumbnailCache, maxUploadBytes int64) *ImageHandler {
	return &ImageHandler{images: images, thumbs: thumbs, maxUploadBytes: maxUploadBytes}
}

// HandleUpload ingests a multipart upload. A new image answers 201, a
// duplicate of stored content answers 200.
// POST /api/images
func (h *ImageHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, r, "parse upload", err)
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeServiceError(w, r, "read upload", err)
		return
	}

	req := service.IngestRequest{Filename: header.Filename, Data: data}
	if values, ok := r.MultipartForm.Value["name"]; ok && len(values) > 0 {
		req.Name = &values[0]
	}

	res, err := h.images.Ingest(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "ingest image", err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toImageDTO(res.Image))
}

// HandleList returns one page of images.
// GET /api/images?limit=&offset=
func (h *ImageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultPageSize)
	if err != nil {
		writeServiceError(w, r, "list images", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeServiceError(w, r, "list images", err)
		return
	}

	page, err := h.images.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, "list images", err)
		return
	}
	writeJSON(w, http.StatusOK, toPageDTO(page, requestURL(r)))
}

// HandleGet returns one image by id or display name.
// GET /api/images/{id}
func (h *ImageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	img, err := h.images.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get image", err)
		return
	}
	writeJSON(w, http.StatusOK, toImageDTO(img))
}

// HandleRename sets or clears the display name.
// PUT /api/images/{id}
func (h *ImageHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := readJSON(r, &req); err != nil {
		writeServiceError(w, r, "rename image", err)
		return
	}
	img, err := h.images.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "rename image", err)
		return
	}
	img, err = h.images.Rename(r.Context(), img.ID, req.Name)
	if err != nil {
		writeServiceError(w, r, "rename image", err)
		return
	}
	writeJSON(w, http.StatusOK, toImageDTO(img))
}

// HandleRelease drops one reference to an image.
// DELETE /api/images/{id}
func (h *ImageHandler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	img, err := h.images.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "release image", err)
		return
	}
	res, err := h.images.Release(r.Context(), img.ID)
	if err != nil {
		writeServiceError(w, r, "release image", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseDTO{
		ID:               res.Image.ID,
		DuplicateCounter: res.Image.DuplicateCounter,
		Deleted:          res.Deleted,
	})
}

// HandleFile serves the image bytes, or a thumbnail when w, h or scale
// is given.
// GET /api/images/{id}/file
func (h *ImageHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	size, err := sizeFromQuery(r)
	if err != nil {
		writeServiceError(w, r, "open image file", err)
		return
	}
	f, err := h.images.OpenFile(r.Context(), r.PathValue("id"), size)
	if err != nil {
		writeServiceError(w, r, "open image file", err)
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(f.Data)
}

// HandleListThumbnails lists the cached thumbnails of an image.
// GET /api/images/{id}/thumbnails
func (h *ImageHandler) HandleListThumbnails(w http.ResponseWriter, r *http.Request) {
	img, err := h.images.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "list thumbnails", err)
		return
	}
	thumbs, err := h.thumbs.ListForImage(r.Context(), img.ID)
	if err != nil {
		writeServiceError(w, r, "list thumbnails", err)
		return
	}
	writeJSON(w, http.StatusOK, toThumbnailDTOs(thumbs))
}

// HandleCreateThumbnail renders a thumbnail that must not exist yet.
// POST /api/images/{id}/thumbnails
func (h *ImageHandler) HandleCreateThumbnail(w http.ResponseWriter, r *http.Request) {
	var req thumbnailRequest
	if err := readJSON(r, &req); err != nil {
		writeServiceError(w, r, "create thumbnail", err)
		return
	}
	thumb, err := h.images.CreateThumbnail(r.Context(), r.PathValue("id"), req.size())
	if err != nil {
		writeServiceError(w, r, "create thumbnail", err)
		return
	}
	writeJSON(w, http.StatusCreated, toThumbnailDTO(thumb))
}

// HandleGetThumbnail returns thumbnail metadata.
// GET /api/thumbnails/{id}
func (h *ImageHandler) HandleGetThumbnail(w http.ResponseWriter, r *http.Request) {
	thumb, err := h.thumbs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get thumbnail", err)
		return
	}
	writeJSON(w, http.StatusOK, toThumbnailDTO(thumb))
}

// HandleDeleteThumbnail removes a thumbnail and its file.
// DELETE /api/thumbnails/{id}
func (h *ImageHandler) HandleDeleteThumbnail(w http.ResponseWriter, r *http.Request) {
	if err := h.thumbs.DeleteOne(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, "delete thumbnail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
	}
	return v, nil
}

func sizeFromQuery(r *http.Request) (domain.SizeRequest, error) {
	var size domain.SizeRequest
	q := r.URL.Query()
	for _, key := range []string{"w", "h"} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return size, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
		}
		if key == "w" {
			size.Width = &v
		} else {
			size.Height = &v
		}
	}
	if raw := q.Get("scale"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return size, fmt.Errorf("%w: scale must be a number", domain.ErrInvalidInput)
		}
		size.Scale = &v
	}
	return size, nil
}

// requestURL rebuilds the absolute URL the client used.
func requestURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
}
