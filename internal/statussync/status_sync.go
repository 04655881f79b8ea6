// Package statussync is the Status Synchronizer, component E: it relays
// milestone document-status transitions to an external orchestrator over
// HTTP and never propagates a failure back to the caller, per spec §4.5's
// "sync failures must never fail the pipeline stage" requirement.
package statussync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/logfields"
	"github.com/kbragio/kbrag/internal/model"
)

// externalStatusMapping carries only the milestone statuses the external
// orchestrator cares about; every other internal status is a no-op sync
// (spec §4.5's mapping table).
var externalStatusMapping = map[model.ProcessStatus]string{
	model.StatusParsed:       "layout_ready",
	model.StatusSplited:      "fully_processed",
	model.StatusConvertFailed: "processing_failed",
	model.StatusParseFailed:   "processing_failed",
	model.StatusMergeFailed:   "processing_failed",
	model.StatusChunkFailed:   "processing_failed",
	model.StatusSplitFailed:   "processing_failed",
}

var failureStatuses = map[model.ProcessStatus]bool{
	model.StatusConvertFailed: true,
	model.StatusParseFailed:   true,
	model.StatusMergeFailed:   true,
	model.StatusChunkFailed:   true,
	model.StatusSplitFailed:   true,
}

// task is one queued sync job.
type task struct {
	docID     string
	status    model.ProcessStatus
	requestID string
}

// Client relays document status milestones to an external system through a
// bounded queue serviced by a fixed worker pool, so a slow or unreachable
// orchestrator never blocks the pipeline stage that triggered the sync.
type Client struct {
	cfg        conf.StatusSyncConfig
	callbackFn func(string) string // doc_id -> callback URL; set by the caller per document
	httpClient *http.Client
	queue      chan task
}

// New constructs the client and starts its worker pool. resolveCallbackURL
// maps a doc_id to the per-document callback_url recorded at upload time
// (spec §6's external interface contract), since the synchronizer itself
// holds no document metadata.
func New(cfg conf.StatusSyncConfig, resolveCallbackURL func(docID string) string) *Client {
	c := &Client{
		cfg:        cfg,
		callbackFn: resolveCallbackURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		queue:      make(chan task, cfg.QueueCapacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		go c.worker(i)
	}
	return c
}

// Sync enqueues a milestone sync and returns immediately; it never blocks
// on the network and never returns an error to the pipeline.
func (c *Client) Sync(ctx context.Context, docID string, status model.ProcessStatus, requestID string) {
	if !c.cfg.Enabled {
		return
	}
	if _, ok := externalStatusMapping[status]; !ok {
		fmt.Println(logfields.Line("sync-skipped", logfields.Fields{
			"doc_id": docID, "status": status, "request_id": requestID,
		}))
		return
	}
	select {
	case c.queue <- task{docID: docID, status: status, requestID: requestID}:
	default:
		fmt.Println(logfields.Line("sync-queue-full", logfields.Fields{
			"doc_id": docID, "status": status, "request_id": requestID,
		}))
	}
}

func (c *Client) worker(id int) {
	for t := range c.queue {
		c.process(t)
	}
}

func (c *Client) process(t task) {
	externalStatus, ok := externalStatusMapping[t.status]
	if !ok {
		return
	}
	isFailure := failureStatuses[t.status]
	url := c.callbackFn(t.docID)
	if url == "" {
		fmt.Println(logfields.Line("sync-skipped-no-callback", logfields.Fields{
			"doc_id": t.docID, "status": t.status, "request_id": t.requestID,
		}))
		return
	}

	payload, err := json.Marshal(map[string]string{
		"doc_id":     t.docID,
		"status":     externalStatus,
		"request_id": t.requestID,
	})
	if err != nil {
		fmt.Println(logfields.Line("sync-failed-marshal", logfields.Fields{"doc_id": t.docID, "error": err}))
		return
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.cfg.RetryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		err := c.post(ctx, url, payload)
		cancel()
		if err == nil {
			fmt.Println(logfields.Line("sync-ok", logfields.Fields{
				"doc_id": t.docID, "internal_status": t.status, "external_status": externalStatus, "request_id": t.requestID,
			}))
			return
		}
		lastErr = err
	}

	outcome := "sync-failed"
	if isFailure {
		// A failed-status sync that never lands leaves the external system
		// waiting indefinitely; call that out distinctly in the log.
		outcome = "sync-failed-for-failure-status"
	}
	fmt.Println(logfields.Line(outcome, logfields.Fields{
		"doc_id": t.docID, "internal_status": t.status, "external_status": externalStatus,
		"request_id": t.requestID, "error": lastErr,
	}))
}

func (c *Client) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
