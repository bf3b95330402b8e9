package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"echovault-backend/application/ports"
	"echovault-backend/domain"
	"echovault-backend/pkg/common"
	pkgerrors "echovault-backend/pkg/errors"
)

// maxIndexPages bounds the internal continuation loop of one List call. The
// owner/is_active filter runs on top of the emotion index, so a single index
// page can thin out below the requested size; the loop keeps reading index
// pages to fill the page, but never more than this many before returning a
// short page.
const maxIndexPages = 5

// List returns one page of active echoes, newest first.
//
// With an emotion filter the emotion index is preferred; an index failure (or
// an open circuit breaker) falls back to a partition query with client-side
// filtering. Pages are read-committed: items written between two
// continuations may appear on, or be missed by, a later page.
func (r *EchoRepository) List(ctx context.Context, q ports.ListQuery) (*ports.ListPage, error) {
	cursor, err := common.DecodeToken(q.Token)
	if err != nil {
		return nil, err
	}

	if q.Emotion != "" {
		page, err := r.indexListGuarded(ctx, q, cursor)
		if err == nil {
			return page, nil
		}
		if pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation) {
			return nil, err
		}
		r.logger.Warn("emotion index query failed, falling back to partition query",
			zap.String("ownerID", q.OwnerID),
			zap.String("emotion", string(q.Emotion)),
			zap.Error(err),
		)
	}

	return r.partitionList(ctx, q, cursor)
}

// indexListGuarded runs the index strategy behind the circuit breaker.
func (r *EchoRepository) indexListGuarded(ctx context.Context, q ports.ListQuery, cursor common.Cursor) (*ports.ListPage, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.indexList(ctx, q, cursor)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.ListPage), nil
}

// indexList queries the emotion index with a server-side owner/is_active
// filter, continuing across index pages until the requested page is full or
// the internal page budget runs out.
func (r *EchoRepository) indexList(ctx context.Context, q ports.ListQuery, cursor common.Cursor) (*ports.ListPage, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(emotionPrefix + string(q.Emotion)))
	filter := expression.Name("OwnerID").Equal(expression.Value(q.OwnerID)).
		And(expression.Name("IsActive").Equal(expression.Value(true)))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build index query").WithCause(err)
	}

	var exclusiveStart map[string]types.AttributeValue
	if cursor != nil {
		exclusiveStart, err = r.indexStartKey(q, cursor)
		if err != nil {
			return nil, err
		}
	}

	echoes := make([]*domain.Echo, 0, q.PageSize)
	for pageCount := 0; pageCount < maxIndexPages; pageCount++ {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			IndexName:                 aws.String(r.indexName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Limit:                     aws.Int32(int32(q.PageSize)),
			ScanIndexForward:          aws.Bool(false),
			ExclusiveStartKey:         exclusiveStart,
		})
		if err != nil {
			return nil, storeUnavailable(err)
		}

		for i, raw := range out.Items {
			var item echoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, pkgerrors.NewInternalError("failed to unmarshal echo").WithCause(err)
			}
			echo, err := fromItem(item)
			if err != nil {
				return nil, pkgerrors.NewInternalError("corrupt echo item").WithCause(err)
			}
			echoes = append(echoes, echo)
			if len(echoes) == q.PageSize {
				// A full page only carries a token when matches actually
				// remain past the cut; a page that ends with the data ends
				// the listing, same as the fallback strategy.
				if i+1 == len(out.Items) && out.LastEvaluatedKey == nil {
					return &ports.ListPage{Echoes: echoes}, nil
				}
				token, err := common.EncodeToken(common.CursorFor(echo))
				if err != nil {
					return nil, err
				}
				return &ports.ListPage{Echoes: echoes, NextToken: token}, nil
			}
		}

		exclusiveStart = out.LastEvaluatedKey
		if exclusiveStart == nil {
			return &ports.ListPage{Echoes: echoes}, nil
		}
	}

	// Page budget exhausted: return the short page with a token at the last
	// evaluated position so the caller can continue.
	token, err := r.tokenFromIndexKey(exclusiveStart)
	if err != nil {
		return nil, err
	}
	return &ports.ListPage{Echoes: echoes, NextToken: token}, nil
}

// indexStartKey rebuilds the index ExclusiveStartKey from the canonical
// cursor. An index start key needs all four of the table and index keys.
func (r *EchoRepository) indexStartKey(q ports.ListQuery, cursor common.Cursor) (map[string]types.AttributeValue, error) {
	createdAt, echoID, err := common.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: pkPrefix + q.OwnerID},
		"SK":     &types.AttributeValueMemberS{Value: skPrefix + echoID},
		"GSI1PK": &types.AttributeValueMemberS{Value: emotionPrefix + string(q.Emotion)},
		// Reformatted through the fixed-width layout so the rebuilt key is
		// byte-identical to the stored GSI1SK.
		"GSI1SK": &types.AttributeValueMemberS{Value: createdAt.UTC().Format(sortableTimeLayout)},
	}, nil
}

// tokenFromIndexKey converts a raw LastEvaluatedKey into the canonical token
// when a short page ends mid-index (every returned attribute is a string in
// this schema).
func (r *EchoRepository) tokenFromIndexKey(key map[string]types.AttributeValue) (string, error) {
	sk, ok := key["SK"].(*types.AttributeValueMemberS)
	if !ok {
		return "", pkgerrors.NewInternalError("unexpected index key shape")
	}
	createdAt, ok := key["GSI1SK"].(*types.AttributeValueMemberS)
	if !ok {
		return "", pkgerrors.NewInternalError("unexpected index key shape")
	}
	return common.EncodeToken(common.Cursor{
		common.CursorCreatedAt: createdAt.Value,
		common.CursorEchoID:    sk.Value[len(skPrefix):],
	})
}

// partitionList is the fallback strategy: a partition query scoped to the
// owner with server-side is_active (and optional emotion) filtering. The sort
// key is the echo id, not a timestamp, so the bounded partition (per-user
// counts sit in the low thousands) is read fully and ordered in memory before
// slicing the page.
func (r *EchoRepository) partitionList(ctx context.Context, q ports.ListQuery, cursor common.Cursor) (*ports.ListPage, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(pkPrefix + q.OwnerID)).
		And(expression.Key("SK").BeginsWith(skPrefix))
	filter := expression.Name("IsActive").Equal(expression.Value(true))
	if q.Emotion != "" {
		filter = filter.And(expression.Name("Emotion").Equal(expression.Value(string(q.Emotion))))
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build partition query").WithCause(err)
	}

	var all []*domain.Echo
	var exclusiveStart map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         exclusiveStart,
		})
		if err != nil {
			return nil, storeUnavailable(err)
		}
		for _, raw := range out.Items {
			var item echoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, pkgerrors.NewInternalError("failed to unmarshal echo").WithCause(err)
			}
			echo, err := fromItem(item)
			if err != nil {
				return nil, pkgerrors.NewInternalError("corrupt echo item").WithCause(err)
			}
			all = append(all, echo)
		}
		exclusiveStart = out.LastEvaluatedKey
		if exclusiveStart == nil {
			break
		}
	}

	common.SortEchoesDesc(all)
	pageEchoes, nextToken, err := common.PageAfterCursor(all, q.PageSize, cursor)
	if err != nil {
		return nil, err
	}
	return &ports.ListPage{Echoes: pageEchoes, NextToken: nextToken}, nil
}
