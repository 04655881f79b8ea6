package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kbragio/kbrag/internal/dto"
	"github.com/kbragio/kbrag/internal/lexical"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/vectorstore"
)

// ObjectPutter stores the uploaded file's bytes under an object key, the
// upload-side counterpart of pipeline.ObjectFetcher.
type ObjectPutter func(ctx context.Context, objectKey string, src io.Reader, size int64, contentType string) error

// Enqueuer starts a freshly created document through the ingestion
// pipeline (component F); kept as a narrow function type so DocumentService
// doesn't need to import the pipeline package directly.
type Enqueuer func(ctx context.Context, docID string) error

// DocumentService implements the upload/delete half of the out-of-core
// HTTP surface (§6 "POST /documents", "DELETE /documents/{doc_id}"): it is
// the glue between the object store, the Metadata Store Adapter, the
// permission grants that gate retrieval, and the ingestion pipeline, none
// of which spec.md lets a handler touch directly.
type DocumentService struct {
	docs  *repository.DocumentRepository
	perms *repository.PermissionRepository
	vecs  *vectorstore.Store
	lex   *lexical.Store
	put   ObjectPutter
	enq   Enqueuer
}

func NewDocumentService(docs *repository.DocumentRepository, perms *repository.PermissionRepository, vecs *vectorstore.Store, lex *lexical.Store, put ObjectPutter, enq Enqueuer) *DocumentService {
	return &DocumentService{docs: docs, perms: perms, vecs: vecs, lex: lex, put: put, enq: enq}
}

// Upload implements create_document followed by the initial permission
// grants and the Enqueue call that starts the Convert stage (spec §2's
// "upload request" data flow). subjectIDs scopes who may retrieve the
// document once it's indexed; an empty slice grants unrestricted access.
func (s *DocumentService) Upload(ctx context.Context, kbID, ownerID uint, req dto.UploadDocumentReq, file multipart.File, header *multipart.FileHeader, subjectIDs []string, requestID, callbackURL string) (*dto.DocumentResp, error) {
	docID := uuid.NewString()
	ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	objectKey := fmt.Sprintf("documents/%s/%s", docID, header.Filename)

	if err := s.put(ctx, objectKey, file, header.Size, header.Header.Get("Content-Type")); err != nil {
		return nil, fmt.Errorf("store uploaded object: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = header.Filename
	}

	doc := &model.Document{
		DocID:           docID,
		DisplayName:     displayName,
		Extension:       ext,
		SourcePath:      objectKey,
		KnowledgeBaseID: kbID,
		OwnerID:         ownerID,
		ProcessStatus:   model.StatusPending,
		RequestID:       requestID,
		CallbackURL:     callbackURL,
		LastProcessedAt: time.Now(),
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.grantPermissions(ctx, docID, subjectIDs); err != nil {
		return nil, fmt.Errorf("grant permissions: %w", err)
	}

	if err := s.enq(ctx, docID); err != nil {
		return nil, fmt.Errorf("enqueue for processing: %w", err)
	}

	resp := dto.NewDocumentResp(doc)
	return &resp, nil
}

func (s *DocumentService) grantPermissions(ctx context.Context, docID string, subjectIDs []string) error {
	if len(subjectIDs) == 0 {
		return s.perms.Grant(ctx, model.PermissionView, "", docID)
	}
	for _, subjectID := range subjectIDs {
		if err := s.perms.Grant(ctx, model.PermissionView, subjectID, docID); err != nil {
			return err
		}
	}
	return nil
}

// Reprocess implements the explicit restart edge of the ingestion state
// machine (spec §4.6): resets a document to pending regardless of its
// current status, including terminal failures, and re-enqueues it at the
// convert stage.
func (s *DocumentService) Reprocess(ctx context.Context, docID string) error {
	if err := s.docs.Restart(ctx, docID); err != nil {
		return err
	}
	return s.enq(ctx, docID)
}

// Delete implements "DELETE /documents/{doc_id}": the derived stores are
// torn down first, then the Metadata Store Adapter cascade (a soft delete of
// the metadata rows), so a crash between the two never leaves a retrievable orphan
// pointing at a doc_id the metadata store no longer has (spec §3
// "ownership" + §9 "deletion is a fan-out, never a graph walk").
func (s *DocumentService) Delete(ctx context.Context, docID string) error {
	if err := s.vecs.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("delete vector records: %w", err)
	}
	if err := s.lex.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("delete lexical records: %w", err)
	}
	return s.docs.DeleteCascade(ctx, docID)
}
