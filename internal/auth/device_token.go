package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 30 * time.Minute

var (
	// ErrMissingSigningSecret indicates the issuer was built without a secret.
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	// ErrMissingDeviceID indicates an issuance request without a device identifier.
	ErrMissingDeviceID = errors.New("auth: device id required")
	// ErrInvalidDeviceToken covers every validation failure. Malformed,
	// badly signed and expired tokens all collapse to this sentinel so the
	// caller cannot distinguish root causes.
	ErrInvalidDeviceToken = errors.New("auth: invalid or expired device token")
)

// DeviceClaims is the typed payload carried by device credentials.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// DeviceTokenConfig configures the device credential issuer and validator.
type DeviceTokenConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// DeviceTokenIssuer mints and validates HS256 device credentials. The
// signing algorithm is pinned at construction time.
type DeviceTokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewDeviceTokenIssuer constructs a DeviceTokenIssuer with sane defaults.
func NewDeviceTokenIssuer(cfg DeviceTokenConfig) (*DeviceTokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("auth: issuer required")
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errors.New("auth: audience required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DeviceTokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed device credential and its expiry in seconds.
func (i *DeviceTokenIssuer) Issue(_ context.Context, deviceID string) (string, int64, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", 0, ErrMissingDeviceID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL)

	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate ensures the credential is well formed, correctly signed and
// unexpired, and returns the typed claims. Expired tokens stay detectable
// via errors.Is(err, jwt.ErrTokenExpired) for log-level decisions only; the
// returned sentinel is uniform.
func (i *DeviceTokenIssuer) Validate(tokenString string) (DeviceClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return DeviceClaims{}, ErrInvalidDeviceToken
	}

	claims := &DeviceClaims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return DeviceClaims{}, fmt.Errorf("%w: %w", ErrInvalidDeviceToken, jwt.ErrTokenExpired)
		}
		return DeviceClaims{}, fmt.Errorf("%w: %v", ErrInvalidDeviceToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return DeviceClaims{}, ErrInvalidDeviceToken
	}
	if strings.TrimSpace(claims.DeviceID) == "" {
		return DeviceClaims{}, ErrInvalidDeviceToken
	}
	return *claims, nil
}
