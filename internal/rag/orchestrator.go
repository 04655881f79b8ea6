// Package rag implements component H, the RAG Orchestrator: it turns one
// user query into a grounded answer by loading session history, retrieving
// supporting segments through the Hybrid Retriever, assembling a
// character-budgeted prompt, invoking the Model Gateway, and persisting both
// halves of the conversation turn.
package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/model"
	"github.com/kbragio/kbrag/internal/modelgateway"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/retriever"
)

// ErrQueryTooLong is returned when a caller's query exceeds RAGConfig.MaxQueryChars.
var ErrQueryTooLong = errors.New("rag: query exceeds maximum length")

// ErrEmptyQuery is returned for a blank or whitespace-only query.
var ErrEmptyQuery = errors.New("rag: query is empty")

// ErrGenerationFailed wraps any error generate records for a turn (a failed
// query embedding, a failed retrieval, or a failed or empty completion),
// once the excluded AI turn has already been persisted for audit
// (spec §4.8 step 6's quality gate).
var ErrGenerationFailed = errors.New("rag: generation failed")

// sessionLockStripes is the hashed single-writer stripe width guarding
// per-session append ordering (spec §5(b)): messages within one session_id
// must land totally ordered, without a lock per live session.
const sessionLockStripes = 64

const refusalTemplate = "I don't have enough information in the knowledge base to answer that question."

const systemPromptTemplate = `You are a knowledge assistant. Answer the user's question using only the
retrieved knowledge below. If the retrieved knowledge does not contain the
answer, say so plainly instead of guessing.

Retrieved knowledge:
%s`

const rewritePromptTemplate = `Rewrite the latest user message into a fully self-contained question that
needs no prior chat turns to understand. Preserve its meaning and language.
Reply with only the rewritten question, nothing else.`

// AnswerRequest is one chat turn's input.
type AnswerRequest struct {
	SessionID string
	UserID    uint
	KbID      uint
	SubjectID string // the permission subject the retriever scopes search to
	Query     string
	RequestID string
	TraceID   string
}

// AnswerResult is what gets returned to the caller and persisted.
type AnswerResult struct {
	Answer  string
	Sources []model.Source
}

// Orchestrator wires history, retrieval, and generation into one turn.
type Orchestrator struct {
	chats     *repository.ChatRepository
	docs      *repository.DocumentRepository
	runs      *repository.RunLogRepository
	retriever *retriever.Retriever
	gateway   *modelgateway.Gateway
	cfg       conf.RAGConfig

	sessionLocks [sessionLockStripes]sync.Mutex
}

func New(chats *repository.ChatRepository, docs *repository.DocumentRepository, runs *repository.RunLogRepository, r *retriever.Retriever, gateway *modelgateway.Gateway, cfg conf.RAGConfig) *Orchestrator {
	return &Orchestrator{chats: chats, docs: docs, runs: runs, retriever: r, gateway: gateway, cfg: cfg}
}

// sessionLock returns the stripe guarding sessionID's append ordering.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &o.sessionLocks[h.Sum32()%sessionLockStripes]
}

// Answer runs one full turn: validate, load history, retrieve, generate,
// persist. A retrieval or generation failure is persisted as an excluded AI
// turn so the bad turn never feeds back into future context, rather than
// being silently dropped.
func (o *Orchestrator) Answer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(query) > o.cfg.MaxQueryChars {
		return nil, ErrQueryTooLong
	}

	if _, err := o.chats.GetOrCreateSession(ctx, req.SessionID, req.UserID, req.KbID); err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}

	// Chat messages within one session_id must be totally ordered; the
	// load-history/append-human/append-ai sequence below runs under the
	// session's stripe so two concurrent turns on the same session can
	// never interleave their appends.
	lock := o.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	history, err := o.chats.LoadRecentMessages(ctx, req.SessionID, o.cfg.HistoryMaxChars)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if _, err := o.chats.AppendMessage(ctx, req.SessionID, model.MessageHuman, query, &model.MessageMetadata{}, false); err != nil {
		return nil, fmt.Errorf("persist human turn: %w", err)
	}

	start := time.Now()
	result, meta := o.generate(ctx, req, query, history)
	meta.ElapsedMs = time.Since(start).Milliseconds()

	excluded := meta.Error != ""
	if _, err := o.chats.AppendMessage(ctx, req.SessionID, model.MessageAI, result.Answer, meta, excluded); err != nil {
		return nil, fmt.Errorf("persist ai turn: %w", err)
	}
	o.recordRun(ctx, req, query, result, meta)

	if meta.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, meta.Error)
	}
	return result, nil
}

// recordRun persists the audit trail for one turn. It never fails the
// caller's request: a logging failure is printed and swallowed, mirroring
// the Status Synchronizer's fire-and-forget stance on its own side effects.
func (o *Orchestrator) recordRun(ctx context.Context, req AnswerRequest, query string, result *AnswerResult, meta *model.MessageMetadata) {
	status := "success"
	if meta.Error != "" {
		status = "error"
	} else if result.Answer == refusalTemplate {
		status = "refused"
	}
	entry := &model.RunLog{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		TraceID:          req.TraceID,
		Query:            query,
		Answer:           result.Answer,
		PromptTokens:     meta.PromptTokens,
		CompletionTokens: meta.CompletionTokens,
		TotalTokens:      meta.PromptTokens + meta.CompletionTokens,
		DurationMs:       meta.ElapsedMs,
		Status:           status,
	}
	if err := o.runs.Create(ctx, entry); err != nil {
		fmt.Printf("rag: failed to record run log: %v\n", err)
	}
}

func (o *Orchestrator) generate(ctx context.Context, req AnswerRequest, query string, history []model.ChatMessage) (*AnswerResult, *model.MessageMetadata) {
	meta := &model.MessageMetadata{SchemaVersion: model.MessageMetadataSchemaVersion}

	searchQuery := query
	if len(history) > 0 {
		rewritten, err := o.rewriteQuery(ctx, query, history)
		if err != nil {
			// Rewrite is best-effort; fall back to the raw query rather
			// than failing the whole turn over it.
			rewritten = query
		}
		meta.RewrittenQuery = rewritten
		searchQuery = rewritten
	}

	vectors, err := o.gateway.Embed(ctx, []string{searchQuery})
	if err != nil {
		meta.Error = fmt.Sprintf("embed query: %v", err)
		return &AnswerResult{Answer: ""}, meta
	}

	results, err := o.retriever.Search(ctx, searchQuery, vectors[0], req.SubjectID)
	if err != nil {
		meta.Error = fmt.Sprintf("retrieve: %v", err)
		return &AnswerResult{Answer: ""}, meta
	}

	if len(results) == 0 {
		// Spec §4.8 step 4: empty retrieval short-circuits straight to the
		// refusal template, no generation call, zero token usage.
		return &AnswerResult{Answer: refusalTemplate}, meta
	}

	contextText, sources := o.buildContext(ctx, results)
	meta.Sources = sources

	messages := make([]modelgateway.GenerateMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.MessageType == model.MessageAI {
			role = "assistant"
		}
		messages = append(messages, modelgateway.GenerateMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, modelgateway.GenerateMessage{Role: "user", Content: query})

	resp, err := o.gateway.Generate(ctx, modelgateway.GenerateRequest{
		SystemPrompt: fmt.Sprintf(systemPromptTemplate, contextText),
		Messages:     messages,
	})
	if err != nil {
		meta.Error = fmt.Sprintf("generate: %v", err)
		return &AnswerResult{Answer: ""}, meta
	}

	meta.PromptTokens = resp.PromptTokens
	meta.CompletionTokens = resp.CompletionTokens
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		meta.Error = "generate: empty completion"
		return &AnswerResult{Answer: ""}, meta
	}
	return &AnswerResult{Answer: answer, Sources: sources}, meta
}

// rewriteQuery folds prior turns into the latest query so retrieval runs
// against a self-contained question (spec §4.8 step 3), via the same
// generate capability the final answer uses.
func (o *Orchestrator) rewriteQuery(ctx context.Context, query string, history []model.ChatMessage) (string, error) {
	messages := make([]modelgateway.GenerateMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.MessageType == model.MessageAI {
			role = "assistant"
		}
		messages = append(messages, modelgateway.GenerateMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, modelgateway.GenerateMessage{Role: "user", Content: query})

	resp, err := o.gateway.Generate(ctx, modelgateway.GenerateRequest{
		SystemPrompt: rewritePromptTemplate,
		Messages:     messages,
	})
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}

// buildContext renders the retrieved segments into the knowledge block fed
// to the model, truncating once ContextMaxChars is exceeded rather than
// cutting a segment in half, and attributes each included segment as a
// Source. Callers only reach here once generate has already confirmed
// results is non-empty.
func (o *Orchestrator) buildContext(ctx context.Context, results []retriever.Result) (string, []model.Source) {
	docNames := make(map[string]string)
	var parts []string
	var sources []model.Source
	total := 0

	for _, res := range results {
		seg := res.Segment
		if total+len(seg.SegContent) > o.cfg.ContextMaxChars {
			break
		}

		docName, ok := docNames[seg.DocID]
		if !ok {
			docName = o.lookupDocName(ctx, seg.DocID)
			docNames[seg.DocID] = docName
		}
		parts = append(parts, taggedChunk(docName, seg.SegPageIdx, seg.SegContent))
		total += len(seg.SegContent)

		sources = append(sources, model.Source{
			DocID: seg.DocID, DocName: docName, SegID: seg.SegID, SegPageIdx: seg.SegPageIdx,
		})
	}

	if len(parts) == 0 {
		// The first candidate alone exceeded ContextMaxChars; include it
		// anyway truncated rather than sending an empty knowledge block.
		seg := results[0].Segment
		content := seg.SegContent
		if len(content) > o.cfg.ContextMaxChars {
			content = content[:o.cfg.ContextMaxChars]
		}
		docName := o.lookupDocName(ctx, seg.DocID)
		return taggedChunk(docName, seg.SegPageIdx, content), []model.Source{{DocID: seg.DocID, DocName: docName, SegID: seg.SegID, SegPageIdx: seg.SegPageIdx}}
	}
	return strings.Join(parts, "\n\n"), sources
}

// taggedChunk prefixes a retrieved segment's text with its [doc_name,
// page_idx] attribution (spec §4.8 step 5) so the model sees the source
// inline, not only in the separately-returned Sources slice.
func taggedChunk(docName string, pageIdx int, content string) string {
	return fmt.Sprintf("[%s, %d]\n%s", docName, pageIdx, content)
}

func (o *Orchestrator) lookupDocName(ctx context.Context, docID string) string {
	doc, err := o.docs.GetByDocID(ctx, docID)
	if err != nil {
		return ""
	}
	return doc.DisplayName
}
