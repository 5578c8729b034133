// Package dynamo is the DynamoDB message store. The table is keyed by
// (sender, id) with two global secondary indexes, both projecting all
// attributes: RecipientIndex (recipient, sender) and SendIndex (sent, send_after).
package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/store"
)

const (
	RecipientIndex = "RecipientIndex"
	SendIndex      = "SendIndex"
)

// Client is the subset of *dynamodb.DynamoDB used here.
type Client interface {
	PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error)
	GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error)
	QueryWithContext(ctx aws.Context, input *dynamodb.QueryInput, opts ...request.Option) (*dynamodb.QueryOutput, error)
}

// record is the persisted item. sent is a string so it can key SendIndex.
// Items written by older tooling hold "True" and "False".
type record struct {
	Sender        string   `dynamodbav:"sender"`
	ID            string   `dynamodbav:"id"`
	SenderName    string   `dynamodbav:"sender_name"`
	Recipient     string   `dynamodbav:"recipient"`
	RecipientName string   `dynamodbav:"recipient_name"`
	Subject       string   `dynamodbav:"subject"`
	Body          string   `dynamodbav:"body"`
	Message       string   `dynamodbav:"message"`
	References    []string `dynamodbav:"references,omitempty"`
	Direction     string   `dynamodbav:"direction"`
	Sent          string   `dynamodbav:"sent"`
	TS            int64    `dynamodbav:"ts"`
	SendAfter     int64    `dynamodbav:"send_after"`
}

func toRecord(m *models.Message) record {
	return record{
		Sender:        m.Sender.Address,
		ID:            m.ID,
		SenderName:    m.Sender.Name,
		Recipient:     m.Recipient.Address,
		RecipientName: m.Recipient.Name,
		Subject:       m.Subject,
		Body:          m.Body,
		Message:       m.Raw,
		References:    m.References,
		Direction:     string(m.Direction),
		Sent:          strconv.FormatBool(m.Sent),
		TS:            m.CreatedAt,
		SendAfter:     m.SendAfter,
	}
}

func (r record) message() *models.Message {
	return &models.Message{
		ID:         r.ID,
		Sender:     models.Contact{Name: r.SenderName, Address: r.Sender},
		Recipient:  models.Contact{Name: r.RecipientName, Address: r.Recipient},
		Subject:    r.Subject,
		Body:       r.Body,
		Raw:        r.Message,
		References: r.References,
		Direction:  models.Direction(r.Direction),
		Sent:       strings.EqualFold(r.Sent, "true"),
		CreatedAt:  r.TS,
		SendAfter:  r.SendAfter,
	}
}

type Store struct {
	client Client
	table  string
}

var _ store.Store = (*Store)(nil)

func New(client Client, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) Put(ctx context.Context, msg *models.Message) error {
	item, err := dynamodbattribute.MarshalMap(toRecord(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, senderAddress, id string) (*models.Message, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"sender": {S: aws.String(senderAddress)},
			"id":     {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}

	var r record
	if err := dynamodbattribute.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", id, err)
	}
	return r.message(), nil
}

func (s *Store) QueryBySender(ctx context.Context, sender, recipient string) ([]*models.Message, error) {
	messages, err := s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#sender = :sender"),
		FilterExpression:       aws.String("#recipient = :recipient"),
		ExpressionAttributeNames: map[string]*string{
			"#sender":    aws.String("sender"),
			"#recipient": aws.String("recipient"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":sender":    {S: aws.String(sender)},
			":recipient": {S: aws.String(recipient)},
		},
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(messages)
	return messages, nil
}

func (s *Store) QueryByRecipient(ctx context.Context, recipient, sender string) ([]*models.Message, error) {
	messages, err := s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(RecipientIndex),
		KeyConditionExpression: aws.String("#recipient = :recipient AND #sender = :sender"),
		ExpressionAttributeNames: map[string]*string{
			"#sender":    aws.String("sender"),
			"#recipient": aws.String("recipient"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":sender":    {S: aws.String(sender)},
			":recipient": {S: aws.String(recipient)},
		},
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(messages)
	return messages, nil
}

// QueryDueForSend reads SendIndex once per spelling of an unsent flag and
// merges the results in send_after order.
func (s *Store) QueryDueForSend(ctx context.Context, now int64) ([]*models.Message, error) {
	due := []*models.Message{}
	for _, unsent := range []string{"false", "False"} {
		messages, err := s.query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(SendIndex),
			KeyConditionExpression: aws.String("#sent = :unsent AND #send_after <= :now"),
			ExpressionAttributeNames: map[string]*string{
				"#sent":       aws.String("sent"),
				"#send_after": aws.String("send_after"),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":unsent": {S: aws.String(unsent)},
				":now":    {N: aws.String(strconv.FormatInt(now, 10))},
			},
		})
		if err != nil {
			return nil, err
		}
		due = append(due, messages...)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].SendAfter < due[j].SendAfter
	})
	return due, nil
}

// query follows LastEvaluatedKey until every page is read.
func (s *Store) query(ctx context.Context, input *dynamodb.QueryInput) ([]*models.Message, error) {
	messages := []*models.Message{}
	for {
		out, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages: %w", err)
		}

		var page []record
		if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		for _, r := range page {
			messages = append(messages, r.message())
		}

		if len(out.LastEvaluatedKey) == 0 {
			return messages, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func sortByCreated(messages []*models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].ID < messages[j].ID
	})
}
