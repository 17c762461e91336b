package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultTriggerTimeout = 10 * time.Second

// the body posted to a job endpoint for every batch
type TriggerPayload struct {
	Job      string    `json:"job"`
	QueueURL string    `json:"queue_url"`
	Messages []Message `json:"messages"`
}

// triggers a job by posting the batch to its endpoint, each trigger is recorded
// in the trigger log when one is configured
type JobTrigger struct {
	jobName    string
	queueURL   string
	jobURL     string
	httpClient *http.Client
	triggerLog DatabaseInterface
	timeout    time.Duration
	quiet      bool
}

func NewJobTrigger(cfg SubscriptionConfig, httpClient *http.Client, triggerLog DatabaseInterface, timeout time.Duration, quiet bool) *JobTrigger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTriggerTimeout
	}
	return &JobTrigger{
		jobName:    cfg.JobName,
		queueURL:   cfg.QueueURL,
		jobURL:     cfg.JobURL,
		httpClient: httpClient,
		triggerLog: triggerLog,
		timeout:    timeout,
		quiet:      quiet,
	}
}

func (t *JobTrigger) Consume(ctx context.Context, messages []Message) error {
	startTime := time.Now()
	tl := log.With().Str("handler", "job_trigger").Str("job", t.jobName).Logger()

	defer func() {
		tl.Debug().Dur("duration", time.Since(startTime)).Int("count", len(messages)).Msg("Job trigger complete")
	}()

	body, err := json.Marshal(TriggerPayload{
		Job:      t.jobName,
		QueueURL: t.queueURL,
		Messages: messages,
	})
	if err != nil {
		return fmt.Errorf("failed to encode trigger payload: %w", err)
	}

	triggerCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(triggerCtx, http.MethodPost, t.jobURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to trigger job %s: %w", t.jobName, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("failed to trigger job %s: unexpected status %s", t.jobName, resp.Status)
	}

	if t.triggerLog != nil {
		ids := make([]string, 0, len(messages))
		for _, m := range messages {
			ids = append(ids, m.ID)
		}
		err := t.triggerLog.CreateTriggerLog(triggerCtx, CreateTriggerLogParams{
			JobName:    t.jobName,
			QueueURL:   t.queueURL,
			MessageIDs: ids,
			Status:     resp.StatusCode,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			// the job already ran, failing here would only trigger it again
			tl.Error().Err(err).Msg("Failed to save trigger log")
		}
	}

	if t.quiet {
		tl.Debug().Int("count", len(messages)).Int("status", resp.StatusCode).Msg("Job triggered")
	} else {
		tl.Info().Int("count", len(messages)).Int("status", resp.StatusCode).Msg("Job triggered")
	}
	return nil
}
