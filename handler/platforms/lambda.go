package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"netfetch/config"
	"netfetch/handler"
	"netfetch/observability/logger"
	"netfetch/observability/types"
)

// ErrUnsupportedEvent is returned for Lambda events that are not SQS batches.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// LambdaAdapter runs a handler inside AWS Lambda, fed by SQS. Each message
// body is one request payload; the "type" message attribute selects the
// request type and defaults to DefaultType.
type LambdaAdapter struct {
	handler *handler.Handler
	config  config.LambdaConfig
	logger  types.Logger

	DefaultType string
}

// NewLambdaAdapter creates an adapter. A nil cfg uses config.DefaultLambdaConfig.
func NewLambdaAdapter(h *handler.Handler, cfg *config.LambdaConfig, log types.Logger) *LambdaAdapter {
	if cfg == nil {
		def := config.DefaultLambdaConfig()
		cfg = &def
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LambdaAdapter{
		handler:     h,
		config:      *cfg,
		logger:      log,
		DefaultType: "fetch",
	}
}

// Start hands control to the Lambda runtime. It does not return.
func (a *LambdaAdapter) Start() {
	lambda.Start(a.HandleEvent)
}

// HandleEvent is the Lambda entry point.
func (a *LambdaAdapter) HandleEvent(ctx context.Context, event json.RawMessage) (interface{}, error) {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(event, &sqsEvent); err == nil && len(sqsEvent.Records) > 0 {
		return a.HandleSQSEvent(ctx, sqsEvent)
	}
	return nil, ErrUnsupportedEvent
}

// HandleSQSEvent processes a batch. With partial batch failure enabled only
// the failed message IDs are reported; otherwise the first failure fails the
// whole batch.
func (a *LambdaAdapter) HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{
		BatchItemFailures: []events.SQSBatchItemFailure{},
	}

	for _, record := range event.Records {
		err := a.processSQSMessage(ctx, record)
		if err == nil {
			continue
		}

		a.logger.Warn(ctx, "SQS message failed", types.Fields{
			"message_id": record.MessageId,
			"error":      err.Error(),
		})

		if !a.config.EnablePartialBatchFailure {
			return response, err
		}
		response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
			ItemIdentifier: record.MessageId,
		})
	}

	return response, nil
}

// processSQSMessage returns an error only when the message should be
// redelivered: a handler error or a retryable failure. Other failures are
// logged and the message is consumed.
func (a *LambdaAdapter) processSQSMessage(ctx context.Context, record events.SQSMessage) error {
	req := a.buildRequestFromSQS(record)

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	resp, err := a.handler.Handle(ctx, req)
	if err != nil {
		return fmt.Errorf("handler error: %w", err)
	}

	if !resp.Success && resp.Error != nil {
		if resp.Error.Retryable {
			return fmt.Errorf("retryable error %s: %s", resp.Error.Code, resp.Error.Message)
		}
		a.logger.Info(ctx, "Dropping message with non-retryable failure", types.Fields{
			"message_id": record.MessageId,
			"error_code": resp.Error.Code,
		})
	}

	return nil
}

func (a *LambdaAdapter) buildRequestFromSQS(record events.SQSMessage) handler.Request {
	metadata := make(map[string]string, len(record.MessageAttributes)+3)
	for key, attr := range record.MessageAttributes {
		if attr.StringValue != nil {
			metadata[key] = *attr.StringValue
		}
	}
	metadata["sqs_message_id"] = record.MessageId
	metadata["sqs_receipt_handle"] = record.ReceiptHandle
	metadata["sqs_event_source"] = record.EventSource

	// Non-JSON bodies are passed on as a JSON string.
	payload := json.RawMessage(record.Body)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(record.Body)
	}

	requestType := a.DefaultType
	if t, ok := metadata["type"]; ok && t != "" {
		requestType = t
	}

	requestID := record.MessageId
	if id, ok := metadata["request_id"]; ok && id != "" {
		requestID = id
	}

	return handler.Request{
		ID:        requestID,
		Source:    "sqs",
		Type:      requestType,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
}
