package dynamodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"echovault-backend/application/ports"
	"echovault-backend/domain"
	"echovault-backend/pkg/common"
	pkgerrors "echovault-backend/pkg/errors"
)

// fakeDynamo scripts the client responses. Index and partition queries are
// told apart by IndexName, which is how the two listing strategies differ on
// the wire.
type fakeDynamo struct {
	getItem map[string]types.AttributeValue
	getErr  error

	putErr    error
	lastPut   *awsdynamodb.PutItemInput
	updateOut *awsdynamodb.UpdateItemOutput
	updateErr error
	lastUpd   *awsdynamodb.UpdateItemInput

	indexItems     []map[string]types.AttributeValue
	indexErr       error
	indexCalls     int
	partitionItems []map[string]types.AttributeValue
	partitionErr   error
	partitionCalls int
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *awsdynamodb.GetItemInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &awsdynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, params *awsdynamodb.PutItemInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.PutItemOutput, error) {
	f.lastPut = params
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &awsdynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, params *awsdynamodb.UpdateItemInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.UpdateItemOutput, error) {
	f.lastUpd = params
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateOut != nil {
		return f.updateOut, nil
	}
	return &awsdynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *awsdynamodb.QueryInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.QueryOutput, error) {
	if params.IndexName != nil {
		f.indexCalls++
		if f.indexErr != nil {
			return nil, f.indexErr
		}
		return &awsdynamodb.QueryOutput{Items: f.indexItems}, nil
	}
	f.partitionCalls++
	if f.partitionErr != nil {
		return nil, f.partitionErr
	}
	return &awsdynamodb.QueryOutput{Items: f.partitionItems}, nil
}

func newTestRepo(client *fakeDynamo) *EchoRepository {
	return NewEchoRepository(client, "echovault-echoes", "EmotionIndex", zap.NewNop())
}

func testEcho(id string, createdAt time.Time) *domain.Echo {
	return &domain.Echo{
		OwnerID:      "u1",
		EchoID:       id,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
		Emotion:      domain.EmotionCalm,
		AudioLocator: "u1/" + id + ".m4a",
		IsActive:     true,
		Version:      1,
	}
}

func marshalEcho(t *testing.T, e *domain.Echo) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toItem(e))
	require.NoError(t, err)
	return av
}

func TestCreate(t *testing.T) {
	client := &fakeDynamo{}
	repo := newTestRepo(client)

	echo := testEcho("e1", time.Now().UTC())
	require.NoError(t, repo.Create(context.Background(), echo))

	require.NotNil(t, client.lastPut)
	assert.Equal(t, "echovault-echoes", *client.lastPut.TableName)
	assert.Contains(t, *client.lastPut.ConditionExpression, "attribute_not_exists",
		"creates never overwrite an existing item")
}

func TestCreate_Conflict(t *testing.T) {
	client := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	repo := newTestRepo(client)

	err := repo.Create(context.Background(), testEcho("e1", time.Now().UTC()))
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeConflict))
}

func TestCreate_StoreError(t *testing.T) {
	client := &fakeDynamo{putErr: assert.AnError}
	repo := newTestRepo(client)

	err := repo.Create(context.Background(), testEcho("e1", time.Now().UTC()))
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
}

func TestGet_RoundTrip(t *testing.T) {
	playedAt := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	echo := testEcho("e1", time.Date(2026, 4, 1, 8, 0, 0, 123456000, time.UTC))
	echo.Tags = []string{"walk"}
	echo.Transcript = "spoken words"
	echo.PlayCount = 3
	echo.LastPlayedAt = &playedAt

	client := &fakeDynamo{getItem: marshalEcho(t, echo)}
	repo := newTestRepo(client)

	got, err := repo.Get(context.Background(), "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, echo.EchoID, got.EchoID)
	assert.True(t, echo.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, echo.Tags, got.Tags)
	assert.Equal(t, 3, got.PlayCount)
	require.NotNil(t, got.LastPlayedAt)
	assert.True(t, playedAt.Equal(*got.LastPlayedAt))
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepo(&fakeDynamo{})
	_, err := repo.Get(context.Background(), "u1", "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestGet_SoftDeletedNotFound(t *testing.T) {
	echo := testEcho("e1", time.Now().UTC())
	echo.IsActive = false
	repo := newTestRepo(&fakeDynamo{getItem: marshalEcho(t, echo)})

	_, err := repo.Get(context.Background(), "u1", "e1")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestUpdate_NotFoundOnConditionFailure(t *testing.T) {
	repo := newTestRepo(&fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}})

	transcript := "new words"
	_, err := repo.Update(context.Background(), "u1", "e1", ports.EchoUpdate{Transcript: &transcript})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSoftDelete_NotFoundOnConditionFailure(t *testing.T) {
	repo := newTestRepo(&fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}})
	err := repo.SoftDelete(context.Background(), "u1", "e1")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestIncrementPlayCount_UsesStoreSideAdd(t *testing.T) {
	client := &fakeDynamo{}
	repo := newTestRepo(client)

	require.NoError(t, repo.IncrementPlayCount(context.Background(), "u1", "e1", time.Now().UTC()))
	require.NotNil(t, client.lastUpd)
	assert.Contains(t, *client.lastUpd.UpdateExpression, "ADD",
		"the counter is bumped store-side, not read-modify-write")
}

func TestList_IndexPath(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeDynamo{
		indexItems: []map[string]types.AttributeValue{
			marshalEcho(t, testEcho("e1", now)),
			marshalEcho(t, testEcho("e2", now.Add(-time.Hour))),
			marshalEcho(t, testEcho("e3", now.Add(-2*time.Hour))),
		},
	}
	repo := newTestRepo(client)

	page, err := repo.List(context.Background(), ports.ListQuery{
		OwnerID:  "u1",
		Emotion:  domain.EmotionCalm,
		PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Echoes, 3)
	assert.Empty(t, page.NextToken)
	assert.Equal(t, 1, client.indexCalls)
	assert.Equal(t, 0, client.partitionCalls, "a healthy index never touches the partition")
}

func TestSortKeyOrderMatchesChronology(t *testing.T) {
	// Fractions that are prefixes of one another are the trap: a trimmed
	// encoding would sort "…00.5Z" after "…00.52Z".
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(520 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Second + 5*time.Nanosecond),
		base.Add(time.Second + 50*time.Nanosecond),
	}

	var prev string
	for i, at := range times {
		key := toItem(testEcho(fmt.Sprintf("e%d", i), at)).GSI1SK
		if i > 0 {
			assert.Less(t, prev, key,
				"string order of sort keys must match chronological order (%s vs %s)", prev, key)
		}
		prev = key
	}
}

func TestSortKeyRoundTripsThroughCursor(t *testing.T) {
	echo := testEcho("e1", time.Date(2026, 6, 1, 10, 0, 0, 500000000, time.UTC))
	stored := toItem(echo).GSI1SK

	repo := newTestRepo(&fakeDynamo{})
	start, err := repo.indexStartKey(ports.ListQuery{OwnerID: "u1", Emotion: domain.EmotionCalm},
		common.CursorFor(echo))
	require.NoError(t, err)

	rebuilt, ok := start["GSI1SK"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, stored, rebuilt.Value,
		"the rebuilt exclusive start key must be byte-identical to the stored sort key")
}

func TestList_IndexPageFillEmitsToken(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeDynamo{
		indexItems: []map[string]types.AttributeValue{
			marshalEcho(t, testEcho("e1", now)),
			marshalEcho(t, testEcho("e2", now.Add(-time.Hour))),
			marshalEcho(t, testEcho("e3", now.Add(-2*time.Hour))),
		},
	}
	repo := newTestRepo(client)

	page, err := repo.List(context.Background(), ports.ListQuery{
		OwnerID:  "u1",
		Emotion:  domain.EmotionCalm,
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, page.Echoes, 2)
	require.NotEmpty(t, page.NextToken)

	cursor, err := common.DecodeToken(page.NextToken)
	require.NoError(t, err)
	_, echoID, err := common.ParseCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, "e2", echoID, "the token resumes after the last returned echo")
}

func TestList_IndexExactFillEndsListing(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeDynamo{
		indexItems: []map[string]types.AttributeValue{
			marshalEcho(t, testEcho("e1", now)),
			marshalEcho(t, testEcho("e2", now.Add(-time.Hour))),
		},
	}
	repo := newTestRepo(client)

	page, err := repo.List(context.Background(), ports.ListQuery{
		OwnerID:  "u1",
		Emotion:  domain.EmotionCalm,
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, page.Echoes, 2)
	assert.Empty(t, page.NextToken,
		"a page that ends exactly with the data carries no token")
}

func TestList_FallbackOnIndexFailure(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeDynamo{
		indexErr: assert.AnError,
		partitionItems: []map[string]types.AttributeValue{
			marshalEcho(t, testEcho("e2", now.Add(-time.Hour))),
			marshalEcho(t, testEcho("e1", now)),
		},
	}
	repo := newTestRepo(client)

	page, err := repo.List(context.Background(), ports.ListQuery{
		OwnerID:  "u1",
		Emotion:  domain.EmotionCalm,
		PageSize: 10,
	})
	require.NoError(t, err, "an index outage degrades to the partition strategy")
	require.Len(t, page.Echoes, 2)
	assert.Equal(t, "e1", page.Echoes[0].EchoID, "the fallback still orders newest first")
	assert.Equal(t, 1, client.indexCalls)
	assert.Equal(t, 1, client.partitionCalls)
}

func TestList_BreakerShortCircuitsAfterRepeatedFailures(t *testing.T) {
	client := &fakeDynamo{indexErr: assert.AnError}
	repo := newTestRepo(client)
	q := ports.ListQuery{OwnerID: "u1", Emotion: domain.EmotionCalm, PageSize: 10}

	for i := 0; i < 5; i++ {
		_, err := repo.List(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, client.indexCalls)

	// The breaker is open now: listings skip the index entirely.
	_, err := repo.List(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 5, client.indexCalls)
	assert.Equal(t, 6, client.partitionCalls)
}

func TestList_BadToken(t *testing.T) {
	client := &fakeDynamo{}
	repo := newTestRepo(client)

	_, err := repo.List(context.Background(), ports.ListQuery{OwnerID: "u1", PageSize: 10, Token: "???"})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))
	assert.Equal(t, 0, client.indexCalls+client.partitionCalls, "a bad token never reaches the store")
}

func TestList_NoFilterUsesPartition(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeDynamo{
		partitionItems: []map[string]types.AttributeValue{
			marshalEcho(t, testEcho("e1", now)),
		},
	}
	repo := newTestRepo(client)

	page, err := repo.List(context.Background(), ports.ListQuery{OwnerID: "u1", PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Echoes, 1)
	assert.Equal(t, 0, client.indexCalls)
}
