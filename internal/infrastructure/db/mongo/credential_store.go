package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

const (
	credentialCollection = "session_credentials"
	defaultProfile       = "default"
)

// CredentialStore keeps one credential document per profile. The whole
// triple is written with a single upsert so it is never partially replaced.
type CredentialStore struct {
	coll    *mongo.Collection
	profile string
	// client is set when the store was created by Open.
	client *mongo.Client
}

func NewCredentialStore(db *mongo.Database, profile string) *CredentialStore {
	if profile == "" {
		profile = defaultProfile
	}
	return &CredentialStore{coll: db.Collection(credentialCollection), profile: profile}
}

type mongoCredential struct {
	Profile      string `bson:"_id"`
	AccessToken  string `bson:"access_token"`
	RefreshToken string `bson:"refresh_token"`
	ExpiresAt    int64  `bson:"expires_at"`
	UpdatedAt    int64  `bson:"updated_at"`
}

// Close disconnects the client when the store was created by Open.
func (s *CredentialStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return Disconnect(ctx, s.client)
}

func (s *CredentialStore) Read(ctx context.Context) (*domain.Credential, error) {
	var doc mongoCredential
	err := s.coll.FindOne(ctx, bson.M{"_id": s.profile}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}

	cred := &domain.Credential{
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		ExpiresAt:    unixMilliToTime(doc.ExpiresAt),
	}
	if !cred.Complete() {
		return nil, nil
	}
	return cred, nil
}

func (s *CredentialStore) Write(ctx context.Context, c domain.Credential) error {
	doc := mongoCredential{
		Profile:      s.profile,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt.UnixMilli(),
		UpdatedAt:    time.Now().Unix(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": s.profile}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.profile}); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func unixMilliToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
