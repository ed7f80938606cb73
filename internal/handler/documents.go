package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragsupport-gateway/internal/middleware"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
	"github.com/connexus-ai/ragsupport-gateway/internal/repository"
)

// DocumentStore is the read/list/delete contract documents handlers need.
type DocumentStore interface {
	GetByID(ctx context.Context, id string, privacy model.PrivacyFilter) (*model.Document, error)
	List(ctx context.Context, opts repository.DocumentListOpts) ([]model.Document, int, error)
	ChunkSummaries(ctx context.Context, documentID string) ([]repository.ChunkSummary, error)
	Delete(ctx context.Context, id string) error
}

// BlobDownloader streams a document's stored bytes.
type BlobDownloader interface {
	Download(ctx context.Context, storageURI string) (io.ReadCloser, error)
}

// DocumentsDeps bundles document-handler dependencies.
type DocumentsDeps struct {
	Documents   DocumentStore
	Blobs       BlobDownloader
	Permissions PermissionChecker
	Audit       *AuditRecorder
}

// PermissionChecker mirrors middleware.PermissionChecker so handlers can do
// ad-hoc checks without an extra middleware layer (e.g. download vs delete
// using different permission names on the same resource path).
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// DocumentListRequest is the body of POST /api/documents/list.
type DocumentListRequest struct {
	Classification string `json:"classification"`
	Product        string `json:"product"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

// DocumentListResponse paginates a document listing.
type DocumentListResponse struct {
	Documents []model.Document `json:"documents"`
	Total     int              `json:"total"`
}

func adminPrivacyFilter(ctx context.Context, userID string, deps DocumentsDeps) model.PrivacyFilter {
	if deps.Permissions == nil {
		return model.PrivacyFilterPublic
	}
	ok, err := deps.Permissions.HasPermission(ctx, userID, "manage_documents")
	if err != nil || !ok {
		return model.PrivacyFilterPublic
	}
	return model.PrivacyFilterAll
}

// ListDocuments handles both GET /api/documents (query-string filters) and
// POST /api/documents/list (JSON body filters).
func ListDocuments(deps DocumentsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		var req DocumentListRequest
		if r.Method == http.MethodPost {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
				return
			}
		} else {
			q := r.URL.Query()
			req.Classification = q.Get("classification")
			req.Product = q.Get("product")
			req.Limit, _ = strconv.Atoi(q.Get("limit"))
			req.Offset, _ = strconv.Atoi(q.Get("offset"))
		}

		ctx := r.Context()
		docs, total, err := deps.Documents.List(ctx, repository.DocumentListOpts{
			Privacy:        adminPrivacyFilter(ctx, userID, deps),
			Classification: req.Classification,
			Product:        req.Product,
			Limit:          req.Limit,
			Offset:         req.Offset,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list documents")
			return
		}

		respondOK(w, DocumentListResponse{Documents: docs, Total: total})
	}
}

// DocumentDetailResponse is the metadata+chunk-summary payload for
// GET /api/documents/{id}.
type DocumentDetailResponse struct {
	Document *model.Document             `json:"document"`
	Chunks   []repository.ChunkSummary   `json:"chunks"`
}

// GetDocument returns a document's metadata plus its chunk summary.
// GET /api/documents/{id}
func GetDocument(deps DocumentsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		ctx := r.Context()
		id := chi.URLParam(r, "id")
		privacy := adminPrivacyFilter(ctx, userID, deps)

		doc, err := deps.Documents.GetByID(ctx, id, privacy)
		if errors.Is(err, repository.ErrDocumentNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "document not found")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load document")
			return
		}

		chunks, err := deps.Documents.ChunkSummaries(ctx, id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load chunk summary")
			return
		}

		respondOK(w, DocumentDetailResponse{Document: doc, Chunks: chunks})
	}
}

// DownloadDocument streams a document's raw bytes. Requires the
// download_documents permission.
// GET /api/documents/{id}/download
func DownloadDocument(deps DocumentsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		ctx := r.Context()
		ok, err := deps.Permissions.HasPermission(ctx, userID, "download_documents")
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "permission check failed")
			return
		}
		if !ok {
			respondError(w, http.StatusForbidden, ErrCodeForbidden, "missing required permission: download_documents")
			return
		}

		id := chi.URLParam(r, "id")
		privacy := adminPrivacyFilter(ctx, userID, deps)
		doc, err := deps.Documents.GetByID(ctx, id, privacy)
		if errors.Is(err, repository.ErrDocumentNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "document not found")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load document")
			return
		}
		if doc.SizeBytes > model.MaxDownloadSizeBytes {
			respondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "document exceeds the maximum download size")
			return
		}

		blob, err := deps.Blobs.Download(ctx, doc.StorageURI)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to fetch document bytes")
			return
		}
		defer blob.Close()

		w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		io.Copy(w, blob)

		deps.Audit.record(ctx, &userID, model.AuditDocumentDownload, "info", true, r)
	}
}

// DeleteDocument removes a document and its chunks. Requires manage_documents.
// DELETE /api/documents/{id}
func DeleteDocument(deps DocumentsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		ctx := r.Context()
		ok, err := deps.Permissions.HasPermission(ctx, userID, "manage_documents")
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "permission check failed")
			return
		}
		if !ok {
			respondError(w, http.StatusForbidden, ErrCodeForbidden, "missing required permission: manage_documents")
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Documents.Delete(ctx, id); errors.Is(err, repository.ErrDocumentNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "document not found")
			return
		} else if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to delete document")
			return
		}

		deps.Audit.record(ctx, &userID, model.AuditDocumentDelete, "info", true, r)
		respondOK(w, map[string]bool{"deleted": true})
	}
}
