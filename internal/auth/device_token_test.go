package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDeviceTokenIssuerIssuesAndValidates(t *testing.T) {
	issuer, err := NewDeviceTokenIssuer(DeviceTokenConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "attendance-auth",
		Audience:      "attendance-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.Issue(context.Background(), "tablet-001")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	claims, err := issuer.Validate(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if claims.DeviceID != "tablet-001" {
		t.Fatalf("unexpected device id %q", claims.DeviceID)
	}
	if claims.Issuer != "attendance-auth" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "attendance-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestDeviceTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewDeviceTokenIssuer(DeviceTokenConfig{
		Issuer:   "attendance-auth",
		Audience: "attendance-api",
	})
	if !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
}

func TestIssueRejectsEmptyDeviceID(t *testing.T) {
	issuer := mustIssuer(t, nil)
	if _, _, err := issuer.Issue(context.Background(), "  "); !errors.Is(err, ErrMissingDeviceID) {
		t.Fatalf("expected ErrMissingDeviceID, got %v", err)
	}
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	issuer := mustIssuer(t, nil)
	if _, err := issuer.Validate("not.a.token"); !errors.Is(err, ErrInvalidDeviceToken) {
		t.Fatalf("expected ErrInvalidDeviceToken, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1760000000, 0).UTC()
	issuer := mustIssuer(t, func() time.Time { return issuedAt })

	tokenString, _, err := issuer.Issue(context.Background(), "tablet-001")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	validator := mustIssuer(t, func() time.Time { return issuedAt.Add(31 * time.Minute) })
	_, err = validator.Validate(tokenString)
	if !errors.Is(err, ErrInvalidDeviceToken) {
		t.Fatalf("expected ErrInvalidDeviceToken, got %v", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired cause to remain detectable, got %v", err)
	}
}

func TestValidateRejectsForeignSigningAlgorithm(t *testing.T) {
	issuer := mustIssuer(t, nil)

	claims := DeviceClaims{
		DeviceID: "tablet-001",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tablet-001",
			Issuer:    "attendance-auth",
			Audience:  []string{"attendance-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := issuer.Validate(tokenString); !errors.Is(err, ErrInvalidDeviceToken) {
		t.Fatalf("expected ErrInvalidDeviceToken for none algorithm, got %v", err)
	}
}

func TestValidateRejectsMissingDeviceIDClaim(t *testing.T) {
	secret := []byte("shared-secret")
	issuer := mustIssuer(t, nil)

	claims := jwt.RegisteredClaims{
		Subject:   "tablet-001",
		Issuer:    "attendance-auth",
		Audience:  []string{"attendance-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := issuer.Validate(tokenString); !errors.Is(err, ErrInvalidDeviceToken) {
		t.Fatalf("expected ErrInvalidDeviceToken for missing device claim, got %v", err)
	}
}

func mustIssuer(t *testing.T, clock func() time.Time) *DeviceTokenIssuer {
	t.Helper()
	issuer, err := NewDeviceTokenIssuer(DeviceTokenConfig{
		SigningSecret: []byte("shared-secret"),
		Issuer:        "attendance-auth",
		Audience:      "attendance-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}
