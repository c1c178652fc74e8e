// Package pubsub bridges job lifecycle events between processes. Publishers
// push updates onto a shared Redis channel; each server process runs a
// Listener that forwards them to its local websocket subscribers, so an
// update produced by any worker reaches every connected client.
package pubsub

import (
	"math"

	"github.com/google/uuid"

	"shopscout.app/research/internal/model"
)

// Channel is the Redis pub/sub channel all job updates flow through.
const Channel = "job_updates"

type MessageType string

const (
	MessageStatus   MessageType = "status"
	MessageProgress MessageType = "progress"
	MessageComplete MessageType = "complete"
	MessageError    MessageType = "error"
)

// Message is the broker payload for a single job update.
type Message struct {
	JobID       string         `json:"job_id"`
	MessageType MessageType    `json:"message_type"`
	Data        map[string]any `json:"data"`
}

// StatusData builds the status payload for a job. Shared with the websocket
// handler, which pushes the same shape on connect and on get_status.
func StatusData(job *model.ResearchJob) map[string]any {
	return map[string]any{
		"status":             string(job.Status),
		"total_items":        job.TotalItems,
		"successful_items":   job.SuccessfulItems,
		"failed_items":       job.FailedItems,
		"success_rate":       job.SuccessRate(),
		"processing_time_ms": job.ProcessingTimeMS,
	}
}

func StatusMessage(job *model.ResearchJob) Message {
	return Message{
		JobID:       job.ID.String(),
		MessageType: MessageStatus,
		Data:        StatusData(job),
	}
}

func ProgressMessage(jobID uuid.UUID, currentItem, totalItems int, currentItemName *string) Message {
	var pct float64
	if totalItems > 0 {
		pct = math.Round(float64(currentItem)/float64(totalItems)*100*100) / 100
	}
	return Message{
		JobID:       jobID.String(),
		MessageType: MessageProgress,
		Data: map[string]any{
			"current_item":        currentItem,
			"total_items":         totalItems,
			"progress_percentage": pct,
			"current_item_name":   currentItemName,
		},
	}
}

func CompleteMessage(job *model.ResearchJob) Message {
	var elapsed int64
	if job.ProcessingTimeMS != nil {
		elapsed = *job.ProcessingTimeMS
	}
	return Message{
		JobID:       job.ID.String(),
		MessageType: MessageComplete,
		Data: map[string]any{
			"status":                   string(job.Status),
			"results_count":            len(job.Results),
			"total_processing_time_ms": elapsed,
		},
	}
}

func ErrorMessage(jobID uuid.UUID, code, message string, details *string) Message {
	return Message{
		JobID:       jobID.String(),
		MessageType: MessageError,
		Data: map[string]any{
			"error_code":    code,
			"error_message": message,
			"error_details": details,
		},
	}
}
