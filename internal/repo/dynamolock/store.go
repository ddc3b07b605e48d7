// Package dynamolock — хранилище записей распределённой блокировки в DynamoDB.
//
// Запись хранится как item с partition key lock_name. Условные операции
// выполняются через ConditionExpression:
//
//	Create: attribute_not_exists(lock_name)
//	Update: version = :expected
//	Delete: attribute_exists(lock_name) AND version = :expected
//
// Версия меняется (uuid) при каждой успешной записи.
package dynamolock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
)

const (
	// DefaultTable — имя таблицы по умолчанию.
	DefaultTable = "pricewatch-locks"

	defaultOperationTimeout = 5 * time.Second

	attrName       = "lock_name"
	attrHolder     = "holder_id"
	attrAcquiredAt = "acquired_at"
	attrExpiresAt  = "expires_at"
	attrRenewedAt  = "renewed_at"
	attrVersion    = "version"

	condCreate = "attribute_not_exists(lock_name)"
	condUpdate = "version = :expected"
	condDelete = "attribute_exists(lock_name) AND version = :expected"
)

// API — подмножество dynamodb.Client, которое использует Store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config — параметры подключения к DynamoDB.
type Config struct {
	Region           string
	Endpoint         string // для LocalStack / dynamodb-local
	AccessKeyID      string
	SecretAccessKey  string
	Table            string
	OperationTimeout time.Duration
}

// Store — lock.Store поверх DynamoDB.
type Store struct {
	api     API
	table   string
	timeout time.Duration
}

// New создаёт клиент DynamoDB по конфигурации.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Region) == "" {
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

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithAPI(dynamodb.NewFromConfig(awsCfg, opts...), cfg.Table, cfg.OperationTimeout), nil
}

// NewWithAPI создаёт Store поверх готового клиента.
func NewWithAPI(api API, table string, timeout time.Duration) *Store {
	if table == "" {
		table = DefaultTable
	}
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return &Store{api: api, table: table, timeout: timeout}
}

// Read возвращает запись по имени.
func (s *Store) Read(ctx context.Context, name string) (*domain.LockRecord, error) {
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	out, err := s.api.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get lock %s: %w", name, err)
	}
	if len(out.Item) == 0 {
		return nil, repo.ErrNotFound
	}
	return decodeItem(out.Item)
}

// Create создаёт запись, если её нет.
func (s *Store) Create(ctx context.Context, rec *domain.LockRecord) (*domain.LockRecord, error) {
	next := rec.Clone()
	next.Version = uuid.NewString()

	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	_, err := s.api.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                encodeItem(next),
		ConditionExpression: aws.String(condCreate),
	})
	if isConditionFailed(err) {
		return nil, repo.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create lock %s: %w", rec.Name, err)
	}
	return next, nil
}

// Update перезаписывает запись при совпадении версии.
func (s *Store) Update(ctx context.Context, rec *domain.LockRecord, expectedVersion string) (*domain.LockRecord, error) {
	next := rec.Clone()
	next.Version = uuid.NewString()

	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	_, err := s.api.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                encodeItem(next),
		ConditionExpression: aws.String(condUpdate),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expectedVersion},
		},
	})
	if isConditionFailed(err) {
		return nil, repo.ErrVersionMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("update lock %s: %w", rec.Name, err)
	}
	return next, nil
}

// Delete удаляет запись при совпадении версии.
func (s *Store) Delete(ctx context.Context, name, expectedVersion string) error {
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	_, err := s.api.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 keyOf(name),
		ConditionExpression: aws.String(condDelete),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expectedVersion},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return repo.ErrNotFound
		}
		return repo.ErrVersionMismatch
	}
	return fmt.Errorf("delete lock %s: %w", name, err)
}

// Ping проверяет доступность таблицы.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	if _, err := s.api.DescribeTable(opCtx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	}); err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (s *Store) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func isConditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func keyOf(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrName: &types.AttributeValueMemberS{Value: name},
	}
}

func encodeItem(rec *domain.LockRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrName:       &types.AttributeValueMemberS{Value: rec.Name},
		attrHolder:     &types.AttributeValueMemberS{Value: rec.HolderID},
		attrAcquiredAt: &types.AttributeValueMemberS{Value: formatTime(rec.AcquiredAt)},
		attrExpiresAt:  &types.AttributeValueMemberS{Value: formatTime(rec.ExpiresAt)},
		attrRenewedAt:  &types.AttributeValueMemberS{Value: formatTime(rec.RenewedAt)},
		attrVersion:    &types.AttributeValueMemberS{Value: rec.Version},
	}
}

func decodeItem(item map[string]types.AttributeValue) (*domain.LockRecord, error) {
	var rec domain.LockRecord
	var err error

	rec.Name = stringAttr(item, attrName)
	rec.HolderID = stringAttr(item, attrHolder)
	rec.Version = stringAttr(item, attrVersion)

	if rec.AcquiredAt, err = parseTime(stringAttr(item, attrAcquiredAt)); err != nil {
		return nil, fmt.Errorf("decode %s: %w", attrAcquiredAt, err)
	}
	if rec.ExpiresAt, err = parseTime(stringAttr(item, attrExpiresAt)); err != nil {
		return nil, fmt.Errorf("decode %s: %w", attrExpiresAt, err)
	}
	if rec.RenewedAt, err = parseTime(stringAttr(item, attrRenewedAt)); err != nil {
		return nil, fmt.Errorf("decode %s: %w", attrRenewedAt, err)
	}
	return &rec, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
