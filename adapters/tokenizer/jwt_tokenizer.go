package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const AudienceAccess = "passport:access"
const AudienceFederated = "passport:federated"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey         *ecdsa.PrivateKey
	federatedSecret []byte
	accessTTL       time.Duration
	now             func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer. Access tokens are ES256 signed
// with signKey; federated id tokens are HS256 signed with federatedSecret.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, federatedSecret []byte, accessTTL time.Duration) ports.Tokenizer {
	return &JWTTokenizer{
		signKey:         signKey,
		federatedSecret: federatedSecret,
		accessTTL:       accessTTL,
		now:             time.Now,
	}
}

// UserToAccessToken issues an access token for user
func (j *JWTTokenizer) UserToAccessToken(user *core.User) (string, error) {
	now := j.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Email: user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// AccessTokenToUserID validates an access token and returns its subject
func (j *JWTTokenizer) AccessTokenToUserID(tokenStr string) (string, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceAccess), jwt.WithTimeFunc(j.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// FederatedTokenToIdentity validates a federated id token
func (j *JWTTokenizer) FederatedTokenToIdentity(tokenStr string) (*core.FederatedIdentity, error) {
	if len(j.federatedSecret) == 0 {
		return nil, fmt.Errorf("%w: federated login is not configured", ErrInvalidToken)
	}

	claims := &FederatedClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.federatedSecret, nil
	}, jwt.WithAudience(AudienceFederated), jwt.WithTimeFunc(j.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, ErrInvalidToken
	}

	return &core.FederatedIdentity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// SignFederatedToken issues an id token the way a federation provider would.
// The reference service uses it in development and tests.
func SignFederatedToken(secret []byte, identity core.FederatedIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := FederatedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceFederated},
		},
		Email: identity.Email,
		Name:  identity.Name,
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signedToken, nil
}
