package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"line-relay/internal/domain"
)

const (
	pkPrefixUser    = "USER#"
	pkPrefixEvent   = "EVENT#"
	skPrefixTurn    = "TURN#"
	defaultEventTTL = 24 * time.Hour

	// sortKeyTime is fixed-width so sort keys order lexically by time.
	sortKeyTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding conversation turns partitioned by
// user. Turns are only ever inserted; the table's retention policy is managed
// outside this package.
type Client struct {
	api       dynamodbAPI
	tableName string
	eventTTL  time.Duration
	now       func() time.Time
	newID     func() string
}

type Option func(*Client)

// WithEventTTL sets how long a claimed webhook event id is remembered.
func WithEventTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.eventTTL = d
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		eventTTL:  defaultEventTTL,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// userPK returns the DynamoDB partition key for a user's turns.
func userPK(userID string) string {
	return pkPrefixUser + userID
}

// turnSK returns a sort key ordering turns by creation time. The random
// suffix keeps keys unique when two turns share a timestamp.
func turnSK(ts time.Time, id string) string {
	return skPrefixTurn + ts.UTC().Format(sortKeyTime) + "#" + id
}

func eventPK(eventID string) string {
	return pkPrefixEvent + eventID
}

// Append inserts one turn with a server-assigned timestamp.
func (c *Client) Append(ctx context.Context, userID string, role domain.Role, content string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Append: user id is required")
	}
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return fmt.Errorf("repository: Append: unsupported role %q", role)
	}

	turn := domain.Turn{
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: c.now().UTC(),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn, c.newID()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// Recent returns up to limit of the user's most recent turns, oldest first.
// Turns with blank content are skipped, so fewer than limit may be returned.
func (c *Client) Recent(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return []domain.Turn{}, nil
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: Recent query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		if len(turns) == limit {
			break
		}
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Recent unmarshal: %w", err)
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClaimEvent records eventID as handled. It returns false when the event
// was already claimed within the TTL window.
func (c *Client) ClaimEvent(ctx context.Context, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("repository: ClaimEvent: event id is required")
	}
	now := c.now().UTC()
	pk := eventPK(eventID)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: pk},
			"SK":         &types.AttributeValueMemberS{Value: pk},
			"created_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			"ttl":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(c.eventTTL).Unix())},
		},
		// Expired markers may linger until DynamoDB's TTL sweep removes them.
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return false, nil
		}
		return false, fmt.Errorf("repository: ClaimEvent: %w", err)
	}
	return true, nil
}

func turnItem(turn domain.Turn, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(turn.UserID)},
		"SK":         &types.AttributeValueMemberS{Value: turnSK(turn.CreatedAt, id)},
		"user_id":    &types.AttributeValueMemberS{Value: turn.UserID},
		"message":    &types.AttributeValueMemberS{Value: turn.Content},
		"role":       &types.AttributeValueMemberS{Value: turn.Role.StorageLabel()},
		"created_at": &types.AttributeValueMemberS{Value: turn.CreatedAt.Format(time.RFC3339Nano)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.Turn{}, err
	}
	label, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	role, ok := domain.RoleFromStorage(label)
	if !ok {
		return domain.Turn{}, fmt.Errorf("repository: unknown role %q", label)
	}
	message, _ := strAttr(item, "message") // blank turns are filtered by the caller
	createdRaw, err := strAttr(item, "created_at")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse attribute %q: %w", "created_at", err)
	}

	return domain.Turn{
		UserID:    userID,
		Role:      role,
		Content:   message,
		CreatedAt: createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
