package api

import "github.com/kyrosq/mqs/internal/domain"

// redriveWire is the wire shape of domain.RedrivePolicy.
type redriveWire struct {
	MaxReceives     int32  `json:"max_receives"`
	DeadLetterQueue string `json:"dead_letter_queue"`
}

// statusWire is the wire shape of domain.Status.
type statusWire struct {
	Messages         int64 `json:"messages"`
	VisibleMessages  int64 `json:"visible_messages"`
	OldestMessageAge int64 `json:"oldest_message_age"`
}

// queueConfigRequest is the body accepted by PUT/POST /queues/{name}.
type queueConfigRequest struct {
	RedrivePolicy        *redriveWire `json:"redrive_policy"`
	RetentionTimeout     int64        `json:"retention_timeout"`
	VisibilityTimeout    int64        `json:"visibility_timeout"`
	MessageDelay         int64        `json:"message_delay"`
	MessageDeduplication bool         `json:"message_deduplication"`
}

func (r queueConfigRequest) toDomain() domain.QueueConfig {
	cfg := domain.QueueConfig{
		RetentionTimeout:          secondsToDuration(r.RetentionTimeout),
		VisibilityTimeout:         secondsToDuration(r.VisibilityTimeout),
		MessageDelay:              secondsToDuration(r.MessageDelay),
		ContentBasedDeduplication: r.MessageDeduplication,
	}
	if r.RedrivePolicy != nil {
		cfg.Redrive = &domain.RedrivePolicy{
			MaxReceives:     r.RedrivePolicy.MaxReceives,
			DeadLetterQueue: r.RedrivePolicy.DeadLetterQueue,
		}
	}
	return cfg
}

// queueResponse is the body returned for queue create/update/delete/get/list.
// Status is only populated by the describe endpoint.
type queueResponse struct {
	Name                 string       `json:"name"`
	RedrivePolicy        *redriveWire `json:"redrive_policy"`
	RetentionTimeout     int64        `json:"retention_timeout"`
	VisibilityTimeout    int64        `json:"visibility_timeout"`
	MessageDelay         int64        `json:"message_delay"`
	MessageDeduplication bool         `json:"message_deduplication"`
	Status               *statusWire  `json:"status,omitempty"`
}

func queueToResponse(q domain.Queue) queueResponse {
	resp := queueResponse{
		Name:                 q.Name,
		RetentionTimeout:     durationToSeconds(q.Config.RetentionTimeout),
		VisibilityTimeout:    durationToSeconds(q.Config.VisibilityTimeout),
		MessageDelay:         durationToSeconds(q.Config.MessageDelay),
		MessageDeduplication: q.Config.ContentBasedDeduplication,
	}
	if q.Config.Redrive != nil {
		resp.RedrivePolicy = &redriveWire{
			MaxReceives:     q.Config.Redrive.MaxReceives,
			DeadLetterQueue: q.Config.Redrive.DeadLetterQueue,
		}
	}
	return resp
}

func descriptionToResponse(d domain.Description) queueResponse {
	resp := queueToResponse(d.Queue)
	resp.Status = &statusWire{
		Messages:         d.Status.Messages,
		VisibleMessages:  d.Status.VisibleMessages,
		OldestMessageAge: d.Status.OldestMessageAgeSeconds,
	}
	return resp
}

// listQueuesResponse is the body returned by GET /queues.
type listQueuesResponse struct {
	Total  int             `json:"total"`
	Queues []queueResponse `json:"queues"`
}
