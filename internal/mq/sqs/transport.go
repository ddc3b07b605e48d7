// Package sqs — AWS SQS транспорт очереди jobs.
//
// Peek-lock моделируется visibility timeout:
//
//	Complete   → DeleteMessage
//	Abandon    → ChangeMessageVisibility(0), сообщение сразу видно снова
//	ExtendLock → ChangeMessageVisibility(VisibilityTimeout)
//
// Для FIFO очередей (URL оканчивается на .fifo) ключ группировки
// передаётся как MessageGroupId, и SQS сам сериализует сообщения одной
// группы. Redrive policy (maxReceiveCount, DLQ) настраивается на очереди.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/shaiso/Pricewatch/internal/queue"
)

const (
	maxBatchSize = 10

	attrGroupKey = "groupKey"

	defaultOperationTimeout  = 30 * time.Second
	defaultWaitTimeSeconds   = 10
	defaultMaxMessages       = 1
	defaultVisibilityTimeout = 60
	receiveErrorBackoff      = 200 * time.Millisecond
)

// API — подмножество sqs.Client, которое использует Transport.
type API interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config — конфигурация SQS транспорта.
type Config struct {
	Region          string
	Endpoint        string // для LocalStack
	AccessKeyID     string
	SecretAccessKey string
	QueueURL        string

	OperationTimeout  time.Duration
	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32

	Logger *slog.Logger
}

func (c *Config) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.WaitTimeSeconds <= 0 {
		c.WaitTimeSeconds = defaultWaitTimeSeconds
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = defaultMaxMessages
	}
	if c.MaxMessages > maxBatchSize {
		c.MaxMessages = maxBatchSize
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = defaultVisibilityTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Transport — queue.Transport поверх SQS.
type Transport struct {
	api    API
	config Config
	fifo   bool

	mu     sync.RWMutex
	closed bool
}

// New создаёт SQS клиент по конфигурации и проверяет доступ к очереди.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	t, err := NewWithAPI(sqs.NewFromConfig(awsCfg, opts...), cfg)
	if err != nil {
		return nil, err
	}
	if err := t.Ping(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// NewWithAPI создаёт Transport поверх готового клиента.
func NewWithAPI(api API, cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, fmt.Errorf("sqs queue URL is required")
	}
	cfg.normalize()
	return &Transport{
		api:    api,
		config: cfg,
		fifo:   strings.HasSuffix(cfg.QueueURL, ".fifo"),
	}, nil
}

// Send отправляет сообщения пачками по 10.
func (t *Transport) Send(ctx context.Context, msgs []queue.Outgoing) error {
	if t.isClosed() {
		return queue.ErrClosed
	}

	for start := 0; start < len(msgs); start += maxBatchSize {
		end := min(start+maxBatchSize, len(msgs))
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, m := range msgs[start:end] {
			entries = append(entries, t.entry(strconv.Itoa(start+i), m))
		}

		opCtx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout)
		out, err := t.api.SendMessageBatch(opCtx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(t.config.QueueURL),
			Entries:  entries,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("send sqs batch: %w", err)
		}
		if len(out.Failed) > 0 {
			return batchError(out.Failed)
		}
	}
	return nil
}

func (t *Transport) entry(id string, m queue.Outgoing) types.SendMessageBatchRequestEntry {
	e := types.SendMessageBatchRequestEntry{
		Id:          aws.String(id),
		MessageBody: aws.String(string(m.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			attrGroupKey: {DataType: aws.String("String"), StringValue: aws.String(m.GroupKey)},
		},
	}
	if t.fifo {
		e.MessageGroupId = aws.String(m.GroupKey)
		e.MessageDeduplicationId = aws.String(m.ID)
	}
	return e
}

// Receive запускает long polling. Ошибки ReceiveMessage попадают
// в канал ошибок, опрос продолжается после короткой паузы.
func (t *Transport) Receive(ctx context.Context) (<-chan queue.Delivery, <-chan error) {
	out := make(chan queue.Delivery)
	errs := make(chan error)

	go func() {
		defer close(out)
		defer close(errs)
		t.pollLoop(ctx, out, errs)
	}()

	return out, errs
}

func (t *Transport) pollLoop(ctx context.Context, out chan<- queue.Delivery, errs chan<- error) {
	for {
		if ctx.Err() != nil || t.isClosed() {
			return
		}

		recvCtx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout)
		res, err := t.api.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(t.config.QueueURL),
			MaxNumberOfMessages:   t.config.MaxMessages,
			WaitTimeSeconds:       t.config.WaitTimeSeconds,
			VisibilityTimeout:     t.config.VisibilityTimeout,
			MessageAttributeNames: []string{attrGroupKey},
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
				types.MessageSystemAttributeNameMessageGroupId,
			},
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.config.Logger.Error("sqs receive failed", "error", err)
			select {
			case errs <- fmt.Errorf("sqs receive: %w", err):
			case <-ctx.Done():
				return
			}
			select {
			case <-time.After(receiveErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, m := range res.Messages {
			select {
			case out <- t.newDelivery(m):
			case <-ctx.Done():
				// Сообщение вернётся в очередь по visibility timeout.
				return
			}
		}
	}
}

// Ping проверяет доступ к очереди.
func (t *Transport) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout)
	defer cancel()

	_, err := t.api.GetQueueAttributes(opCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(t.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close останавливает опрос. Повторный вызов — no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Transport) newDelivery(m types.Message) *delivery {
	groupKey := m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)]
	if v, ok := m.MessageAttributes[attrGroupKey]; ok && groupKey == "" {
		groupKey = aws.ToString(v.StringValue)
	}

	count, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || count <= 0 {
		count = 1
	}

	return &delivery{
		t:             t,
		receiptHandle: aws.ToString(m.ReceiptHandle),
		env: queue.Envelope{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			GroupKey:      groupKey,
			DeliveryCount: count,
		},
	}
}

// delivery — queue.Delivery поверх SQS сообщения.
type delivery struct {
	t             *Transport
	receiptHandle string
	env           queue.Envelope
}

func (d *delivery) Envelope() queue.Envelope { return d.env }

func (d *delivery) Complete(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, d.t.config.OperationTimeout)
	defer cancel()

	_, err := d.t.api.DeleteMessage(opCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.t.config.QueueURL),
		ReceiptHandle: aws.String(d.receiptHandle),
	})
	return wrapReceiptError("delete message", err)
}

func (d *delivery) Abandon(ctx context.Context) error {
	return d.changeVisibility(ctx, 0)
}

func (d *delivery) ExtendLock(ctx context.Context) error {
	return d.changeVisibility(ctx, d.t.config.VisibilityTimeout)
}

func (d *delivery) changeVisibility(ctx context.Context, seconds int32) error {
	opCtx, cancel := context.WithTimeout(ctx, d.t.config.OperationTimeout)
	defer cancel()

	_, err := d.t.api.ChangeMessageVisibility(opCtx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(d.t.config.QueueURL),
		ReceiptHandle:     aws.String(d.receiptHandle),
		VisibilityTimeout: seconds,
	})
	return wrapReceiptError("change visibility", err)
}

func wrapReceiptError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return fmt.Errorf("%s: %w", op, queue.ErrLockLost)
	}
	var notInflight *types.MessageNotInflight
	if errors.As(err, &notInflight) {
		return fmt.Errorf("%s: %w", op, queue.ErrLockLost)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func batchError(failed []types.BatchResultErrorEntry) error {
	errs := make([]error, 0, len(failed))
	for _, f := range failed {
		errs = append(errs, fmt.Errorf("entry %s: %s (%s)",
			aws.ToString(f.Id), aws.ToString(f.Message), aws.ToString(f.Code)))
	}
	return fmt.Errorf("send sqs batch: %d entries failed: %w", len(failed), errors.Join(errs...))
}
