package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionConversations = "conversations"
	collectionMessages      = "messages"
)

// Firestore implements Repository using Cloud Firestore. Messages live in a
// subcollection under each conversation document; the sequence counter is
// allocated transactionally against the conversation document.
type Firestore struct {
	client *firestore.Client
}

type conversationDoc struct {
	UserID    string    `firestore:"user_id"`
	Title     string    `firestore:"title"`
	LastSeq   int64     `firestore:"last_seq"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type messageDoc struct {
	Role      string         `firestore:"role"`
	Content   string         `firestore:"content"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Seq       int64          `firestore:"seq"`
	CreatedAt time.Time      `firestore:"created_at"`
}

// NewFirestore creates a Firestore-backed conversation repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) convRef(id model.ConversationID) *firestore.DocumentRef {
	return r.client.Collection(collectionConversations).Doc(string(id))
}

func (r *Firestore) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	snap, err := r.convRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrConversationNotFound, "no such conversation", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("id", id))
	}

	return &model.Conversation{
		ID:        id,
		UserID:    doc.UserID,
		Title:     doc.Title,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *Firestore) GetOrCreate(ctx context.Context, id model.ConversationID, userID string) (*model.Conversation, error) {
	if id == "" {
		id = model.NewConversationID()
	}

	conv, err := r.Get(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, model.ErrConversationNotFound) {
		return nil, err
	}

	now := time.Now()
	doc := conversationDoc{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := r.convRef(id).Set(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to create conversation", goerr.V("id", id))
	}

	return &model.Conversation{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Firestore) PutMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg.ID == "" {
		msg.ID = model.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	convRef := r.convRef(msg.ConversationID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrConversationNotFound, "no such conversation",
					goerr.V("id", msg.ConversationID))
			}
			return goerr.Wrap(err, "failed to get conversation in transaction")
		}

		var conv conversationDoc
		if err := snap.DataTo(&conv); err != nil {
			return goerr.Wrap(err, "failed to decode conversation in transaction")
		}

		msg.Seq = conv.LastSeq + 1

		msgRef := convRef.Collection(collectionMessages).Doc(string(msg.ID))
		if err := tx.Set(msgRef, messageDoc{
			Role:      string(msg.Role),
			Content:   msg.Content,
			Metadata:  msg.Metadata,
			Seq:       msg.Seq,
			CreatedAt: msg.CreatedAt,
		}); err != nil {
			return goerr.Wrap(err, "failed to set message")
		}

		return tx.Update(convRef, []firestore.Update{
			{Path: "last_seq", Value: msg.Seq},
			{Path: "updated_at", Value: msg.CreatedAt},
		})
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (r *Firestore) ListMessages(ctx context.Context, id model.ConversationID) ([]*model.Message, error) {
	iter := r.convRef(id).Collection(collectionMessages).
		OrderBy("created_at", firestore.Asc).
		OrderBy("seq", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var msgs []*model.Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages", goerr.V("conversation_id", id))
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message", goerr.V("message_id", snap.Ref.ID))
		}

		msgs = append(msgs, &model.Message{
			ID:             model.MessageID(snap.Ref.ID),
			ConversationID: id,
			Role:           model.Role(doc.Role),
			Content:        doc.Content,
			Metadata:       doc.Metadata,
			Seq:            doc.Seq,
			CreatedAt:      doc.CreatedAt,
		})
	}

	// Firestore already orders, but composite index gaps can reorder equal
	// timestamps; enforce the total order here as well.
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs, nil
}

func (r *Firestore) ReplaceWorkingSet(ctx context.Context, id model.ConversationID, remove []model.MessageID, summary *model.Message) error {
	convRef := r.convRef(id)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, msgID := range remove {
			if err := tx.Delete(convRef.Collection(collectionMessages).Doc(string(msgID))); err != nil {
				return goerr.Wrap(err, "failed to delete pruned message", goerr.V("message_id", msgID))
			}
		}

		sumRef := convRef.Collection(collectionMessages).Doc(string(summary.ID))
		if err := tx.Set(sumRef, messageDoc{
			Role:      string(summary.Role),
			Content:   summary.Content,
			Metadata:  summary.Metadata,
			Seq:       summary.Seq,
			CreatedAt: summary.CreatedAt,
		}); err != nil {
			return goerr.Wrap(err, "failed to set summary message")
		}

		return tx.Update(convRef, []firestore.Update{
			{Path: "updated_at", Value: time.Now()},
		})
	})
	if err != nil {
		return goerr.Wrap(err, "failed to replace working set", goerr.V("conversation_id", id))
	}

	return nil
}
