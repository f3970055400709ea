package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

const (
	metricStatusTransitions = "StatusTransitions"
	// PutMetricData accepts at most this many datums per call.
	maxDatumsPerCall = 1000
)

// Processor turns order lifecycle events into CloudWatch transition counts.
type Processor struct {
	cloudwatch aws.CloudWatchAPI
	namespace  string
	log        *logger.Logger
}

func NewProcessor(cw aws.CloudWatchAPI, namespace string, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{cloudwatch: cw, namespace: namespace, log: log}
}

// Handle processes an SQS batch. Malformed or foreign messages are reported
// as batch item failures so only they return to the queue.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	counts := map[transitionKey]float64{}
	var order []transitionKey

	for _, rec := range ev.Records {
		msgCtx := p.log.WithField(ctx, "message_id", rec.MessageId)
		event, err := decodeEvent(rec.Body)
		if err != nil {
			p.log.Error(msgCtx, "invalid order event", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
			continue
		}
		key := transitionKey{status: string(event.To), source: event.Source}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
		p.log.Debug(p.log.WithOrderID(msgCtx, event.OrderID), fmt.Sprintf("order moved %s -> %s", event.From, event.To))
	}

	if len(counts) == 0 {
		return resp, nil
	}
	if err := p.putCounts(ctx, order, counts); err != nil {
		// counts are per batch; fail the whole batch so it is retried
		return events.SQSEventResponse{}, err
	}
	return resp, nil
}

type transitionKey struct {
	status string
	source string
}

func decodeEvent(body string) (*orders.StatusChangedEvent, error) {
	var ev orders.StatusChangedEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("invalid message body: %w", err)
	}
	if ev.EventType != orders.EventStatusChanged {
		return nil, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	if strings.TrimSpace(ev.OrderID) == "" || ev.To == "" {
		return nil, fmt.Errorf("event %s is missing order id or status", ev.EventID)
	}
	return &ev, nil
}

func (p *Processor) putCounts(ctx context.Context, keys []transitionKey, counts map[transitionKey]float64) error {
	now := time.Now().UTC()
	data := make([]cwtypes.MetricDatum, 0, len(keys))
	for _, k := range keys {
		dims := []cwtypes.Dimension{{Name: sdkaws.String("Status"), Value: sdkaws.String(k.status)}}
		if k.source != "" {
			dims = append(dims, cwtypes.Dimension{Name: sdkaws.String("Source"), Value: sdkaws.String(k.source)})
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(metricStatusTransitions),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(counts[k]),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		if _, err := p.cloudwatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(p.namespace),
			MetricData: data[start:end],
		}); err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}
