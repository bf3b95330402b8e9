package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"echovault-backend/application/ports"
	"echovault-backend/domain"
	pkgerrors "echovault-backend/pkg/errors"
)

// Single-table key layout. The emotion index is keyed by
// (GSI1PK = emotion, GSI1SK = created_at) and is deliberately not
// owner-partitioned; owner scoping is a server-side filter on top of it.
const (
	pkPrefix      = "USER#"
	skPrefix      = "ECHO#"
	emotionPrefix = "EMOTION#"
	entityEcho    = "ECHO"
)

// sortableTimeLayout is the GSI1SK encoding. The fraction is fixed-width:
// DynamoDB orders string range keys byte-wise, and a trimmed fraction would
// make "…00.5Z" sort after "…00.52Z". All stored times are UTC.
const sortableTimeLayout = "2006-01-02T15:04:05.000000000Z"

// DynamoAPI is the subset of the DynamoDB client the repository uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// EchoRepository implements ports.EchoRepository on DynamoDB.
type EchoRepository struct {
	client    DynamoAPI
	tableName string
	indexName string
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker
}

var _ ports.EchoRepository = (*EchoRepository)(nil)

// NewEchoRepository creates a new EchoRepository. The emotion-index query
// path is guarded by a circuit breaker: repeated index failures trip it and
// listings short-circuit straight to the partition-query fallback until the
// index recovers.
func NewEchoRepository(client DynamoAPI, tableName, indexName string, logger *zap.Logger) *EchoRepository {
	r := &EchoRepository{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "emotion-index",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return r
}

// echoItem is the DynamoDB item shape for an echo.
type echoItem struct {
	PK           string   `dynamodbav:"PK"`
	SK           string   `dynamodbav:"SK"`
	GSI1PK       string   `dynamodbav:"GSI1PK"`
	GSI1SK       string   `dynamodbav:"GSI1SK"`
	EntityType   string   `dynamodbav:"EntityType"`
	OwnerID      string   `dynamodbav:"OwnerID"`
	EchoID       string   `dynamodbav:"EchoID"`
	CreatedAt    string   `dynamodbav:"CreatedAt"`
	UpdatedAt    string   `dynamodbav:"UpdatedAt"`
	Emotion      string   `dynamodbav:"Emotion"`
	AudioLocator string   `dynamodbav:"AudioLocator"`
	Tags         []string `dynamodbav:"Tags,omitempty"`
	Transcript   string   `dynamodbav:"Transcript,omitempty"`
	DetectedMood string   `dynamodbav:"DetectedMood,omitempty"`
	PlayCount    int      `dynamodbav:"PlayCount"`
	LastPlayedAt string   `dynamodbav:"LastPlayedAt,omitempty"`
	IsActive     bool     `dynamodbav:"IsActive"`
	Version      int      `dynamodbav:"Version"`
}

func echoKey(ownerID, echoID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + ownerID},
		"SK": &types.AttributeValueMemberS{Value: skPrefix + echoID},
	}
}

func toItem(e *domain.Echo) echoItem {
	item := echoItem{
		PK:           pkPrefix + e.OwnerID,
		SK:           skPrefix + e.EchoID,
		GSI1PK:       emotionPrefix + string(e.Emotion),
		GSI1SK:       e.CreatedAt.UTC().Format(sortableTimeLayout),
		EntityType:   entityEcho,
		OwnerID:      e.OwnerID,
		EchoID:       e.EchoID,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Emotion:      string(e.Emotion),
		AudioLocator: e.AudioLocator,
		Tags:         e.Tags,
		Transcript:   e.Transcript,
		DetectedMood: e.DetectedMood,
		PlayCount:    e.PlayCount,
		IsActive:     e.IsActive,
		Version:      e.Version,
	}
	if e.LastPlayedAt != nil {
		item.LastPlayedAt = e.LastPlayedAt.UTC().Format(time.RFC3339Nano)
	}
	return item
}

func fromItem(item echoItem) (*domain.Echo, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid CreatedAt on item %s: %w", item.SK, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid UpdatedAt on item %s: %w", item.SK, err)
	}
	echo := &domain.Echo{
		OwnerID:      item.OwnerID,
		EchoID:       item.EchoID,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		Emotion:      domain.Emotion(item.Emotion),
		AudioLocator: item.AudioLocator,
		Tags:         item.Tags,
		Transcript:   item.Transcript,
		DetectedMood: item.DetectedMood,
		PlayCount:    item.PlayCount,
		IsActive:     item.IsActive,
		Version:      item.Version,
	}
	if item.LastPlayedAt != "" {
		playedAt, err := time.Parse(time.RFC3339Nano, item.LastPlayedAt)
		if err == nil {
			echo.LastPlayedAt = &playedAt
		}
	}
	return echo, nil
}

// Create persists a new echo. The conditional put rejects an existing
// (owner, echo) pair with a conflict instead of overwriting it.
func (r *EchoRepository) Create(ctx context.Context, echo *domain.Echo) error {
	av, err := attributevalue.MarshalMap(toItem(echo))
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal echo").WithCause(err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return pkgerrors.NewConflictError("echo already exists")
		}
		return storeUnavailable(err)
	}

	r.logger.Debug("echo stored",
		zap.String("ownerID", echo.OwnerID),
		zap.String("echoID", echo.EchoID),
	)
	return nil
}

// Get fetches one active echo. Missing, foreign-owner and soft-deleted items
// all surface as the same not-found.
func (r *EchoRepository) Get(ctx context.Context, ownerID, echoID string) (*domain.Echo, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       echoKey(ownerID, echoID),
	})
	if err != nil {
		return nil, storeUnavailable(err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("echo")
	}

	var item echoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewInternalError("failed to unmarshal echo").WithCause(err)
	}
	if !item.IsActive {
		return nil, pkgerrors.NewNotFoundError("echo")
	}
	return fromItem(item)
}

// Update applies a partial update to an existing active echo, bumping its
// version. The attribute_exists condition guarantees it never upserts.
func (r *EchoRepository) Update(ctx context.Context, ownerID, echoID string, upd ports.EchoUpdate) (*domain.Echo, error) {
	update := expression.
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now().UTC().Format(time.RFC3339Nano))).
		Add(expression.Name("Version"), expression.Value(1))
	if upd.Tags != nil {
		update = update.Set(expression.Name("Tags"), expression.Value(*upd.Tags))
	}
	if upd.Transcript != nil {
		update = update.Set(expression.Name("Transcript"), expression.Value(*upd.Transcript))
	}

	cond := expression.AttributeExists(expression.Name("PK")).
		And(expression.Equal(expression.Name("IsActive"), expression.Value(true)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build update expression").WithCause(err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       echoKey(ownerID, echoID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, pkgerrors.NewNotFoundError("echo")
		}
		return nil, storeUnavailable(err)
	}

	var item echoItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, pkgerrors.NewInternalError("failed to unmarshal updated echo").WithCause(err)
	}
	return fromItem(item)
}

// SoftDelete marks an echo inactive. Deleting an already-deleted or missing
// item reports not-found.
func (r *EchoRepository) SoftDelete(ctx context.Context, ownerID, echoID string) error {
	update := expression.
		Set(expression.Name("IsActive"), expression.Value(false)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now().UTC().Format(time.RFC3339Nano))).
		Add(expression.Name("Version"), expression.Value(1))
	cond := expression.AttributeExists(expression.Name("PK")).
		And(expression.Equal(expression.Name("IsActive"), expression.Value(true)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build delete expression").WithCause(err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       echoKey(ownerID, echoID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return pkgerrors.NewNotFoundError("echo")
		}
		return storeUnavailable(err)
	}
	return nil
}

// IncrementPlayCount bumps the play counter with a store-side ADD. Two
// concurrent rediscoveries of the same echo both land; there is no
// read-modify-write to lose.
func (r *EchoRepository) IncrementPlayCount(ctx context.Context, ownerID, echoID string, playedAt time.Time) error {
	update := expression.
		Add(expression.Name("PlayCount"), expression.Value(1)).
		Add(expression.Name("Version"), expression.Value(1)).
		Set(expression.Name("LastPlayedAt"), expression.Value(playedAt.UTC().Format(time.RFC3339Nano))).
		Set(expression.Name("UpdatedAt"), expression.Value(playedAt.UTC().Format(time.RFC3339Nano)))
	cond := expression.AttributeExists(expression.Name("PK"))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build increment expression").WithCause(err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       echoKey(ownerID, echoID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return pkgerrors.NewNotFoundError("echo")
		}
		return storeUnavailable(err)
	}
	return nil
}

func storeUnavailable(err error) error {
	return pkgerrors.NewUnavailableError("record store unavailable").WithCause(err)
}
