package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// APIKeyPrefix starts every issued plugin key.
const APIKeyPrefix = "hems_"

// verifiedKeyTTL bounds how long a revoked key keeps working on a node
// that has it cached.
const verifiedKeyTTL = time.Minute

type cachedKey struct {
	digest [sha256.Size]byte
	claims models.Claims
}

// Service handles authentication operations
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
	keys      db.APIKeyCollection
	verified  *expirable.LRU[string, cachedKey]
	log       *logrus.Entry
}

// NewService creates a new authentication service. keys may be nil when
// API key auth is not offered.
func NewService(secret string, tokenExp time.Duration, keys db.APIKeyCollection, cacheSize int) (*Service, error) {
	if secret == "" {
		secret = "default-secret-key-change-in-production"
		logrus.Warn("JWT secret not configured, using the built-in development secret")
	}
	if tokenExp <= 0 {
		tokenExp = 24 * time.Hour
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  tokenExp,
		keys:      keys,
		verified:  expirable.NewLRU[string, cachedKey](cacheSize, nil, verifiedKeyTTL),
		log:       logrus.WithField("component", "auth"),
	}, nil
}

// GenerateToken generates a JWT token for an identity
func (s *Service) GenerateToken(identity models.Claims) (string, error) {
	if identity.UserID == "" || !models.IsValidRole(identity.Role) {
		return "", fmt.Errorf("cannot sign token: %w", ErrInvalidToken)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  identity.UserID,
		"username": identity.Username,
		"role":     string(identity.Role),
		"exp":      now.Add(s.tokenExp).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}

	username, _ := claims["username"].(string)

	roleStr, ok := claims["role"].(string)
	if !ok || !models.IsValidRole(models.Role(roleStr)) {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		UserID:   userID,
		Username: username,
		Role:     models.Role(roleStr),
		Exp:      int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// IssueAPIKey mints a plugin key for owner. The returned plaintext is the
// only copy of the secret; only its bcrypt hash is stored.
func (s *Service) IssueAPIKey(ctx context.Context, owner models.Claims, label string) (string, models.APIKey, error) {
	if s.keys == nil {
		return "", models.APIKey{}, errors.New("api keys are not enabled")
	}
	secret, err := randomSecret()
	if err != nil {
		return "", models.APIKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", models.APIKey{}, fmt.Errorf("failed to hash api key: %w", err)
	}

	key := models.APIKey{
		KeyID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:     owner.UserID,
		Username:   owner.Username,
		SecretHash: string(hash),
		Label:      label,
		CreatedAt:  time.Now(),
	}
	if err := s.keys.InsertAPIKey(ctx, key); err != nil {
		return "", models.APIKey{}, fmt.Errorf("failed to store api key: %w", err)
	}
	s.log.WithFields(logrus.Fields{"key_id": key.KeyID, "user_id": owner.UserID}).Info("API key issued")
	return APIKeyPrefix + key.KeyID + "." + secret, key, nil
}

// VerifyAPIKey resolves a raw plugin key to the identity of its owner.
// Keys authenticate as pilots.
func (s *Service) VerifyAPIKey(ctx context.Context, raw string) (*models.Claims, error) {
	keyID, secret, ok := splitAPIKey(raw)
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	digest := sha256.Sum256([]byte(secret))
	if hit, ok := s.verified.Get(keyID); ok {
		if subtle.ConstantTimeCompare(hit.digest[:], digest[:]) == 1 {
			claims := hit.claims
			return &claims, nil
		}
		return nil, ErrInvalidAPIKey
	}
	if s.keys == nil {
		return nil, ErrInvalidAPIKey
	}

	key, err := s.keys.FindAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidAPIKey
	}

	claims := models.Claims{
		UserID:   key.UserID,
		Username: key.Username,
		Role:     models.RolePilot,
		APIKeyID: key.KeyID,
	}
	s.verified.Add(keyID, cachedKey{digest: digest, claims: claims})
	if err := s.keys.TouchAPIKey(ctx, keyID, time.Now()); err != nil {
		s.log.WithError(err).WithField("key_id", keyID).Warn("Failed to record api key use")
	}
	return &claims, nil
}

func splitAPIKey(raw string) (keyID, secret string, ok bool) {
	rest, found := strings.CutPrefix(raw, APIKeyPrefix)
	if !found {
		return "", "", false
	}
	keyID, secret, found = strings.Cut(rest, ".")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
