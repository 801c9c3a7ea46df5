// README: Firebase Admin SDK initialisation, token verifier and admin role lookup.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"poolride/internal/types"
)

// RoleClaim is the custom claim carrying a user's role ("driver", "admin").
const RoleClaim = "role"

const RoleAdmin = "admin"

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// NewFirebaseApp initialises the Admin SDK app shared by auth, RTDB and FCM.
// If credentialsFile is empty, application-default credentials are used.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile, databaseURL string) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

// firebaseVerifier is the production implementation backed by the Firebase Admin SDK.
type firebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(client *auth.Client) TokenVerifier {
	return &firebaseVerifier{client: client}
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

type userGetter interface {
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

// ClaimsRoleLookup answers admin checks from the user's custom claims, so a
// revoked role takes effect without waiting for the caller's token to expire.
type ClaimsRoleLookup struct {
	users userGetter
}

func NewClaimsRoleLookup(client *auth.Client) *ClaimsRoleLookup {
	return &ClaimsRoleLookup{users: client}
}

func (l *ClaimsRoleLookup) IsAdmin(ctx context.Context, uid types.ID) (bool, error) {
	u, err := l.users.GetUser(ctx, string(uid))
	if err != nil {
		if auth.IsUserNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("firebase GetUser %s: %w", uid, err)
	}
	role, _ := u.CustomClaims[RoleClaim].(string)
	return role == RoleAdmin, nil
}
