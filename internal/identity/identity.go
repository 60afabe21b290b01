// Package identity verifies bearer tokens issued by the identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified profile behind a token.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	Picture    string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebaseVerifier initialises the Firebase app from a service account file,
// or from application default credentials when credentialsFile is empty.
func NewFirebaseVerifier(ctx context.Context, credentialsFile, projectID string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := &Identity{
		ExternalID: decoded.UID,
		Email:      claim(decoded.Claims, "email"),
		Name:       claim(decoded.Claims, "name"),
		Picture:    claim(decoded.Claims, "picture"),
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	return id, nil
}

func claim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}

// DevVerifier accepts "uid" or "uid:email" tokens without checking signatures.
// It exists for local development only.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	uid, email, _ := strings.Cut(token, ":")
	if email == "" {
		email = uid + "@dev.local"
	}
	return &Identity{ExternalID: uid, Email: email, Name: uid}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
