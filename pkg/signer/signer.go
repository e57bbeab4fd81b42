// Package signer implements the Upload-URL Signer/Verifier (§4.J): HMAC-SHA256
// signed JWTs used to authorize two narrow actions without a full session —
// rendering a transformed object, and posting to a resumable upload's `/sign`
// endpoint. Each tenant signs with its own secret, mirroring the teacher's
// JWTService except scoped to these two payload shapes instead of a full
// access/refresh token pair tied to a user.
package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/objectgate/gateway/pkg/apierror"
)

// RenderClaims is the payload of a signed render URL: {url, transformations, exp}.
type RenderClaims struct {
	jwt.RegisteredClaims

	// URL is the token's bound path, compared byte-for-byte against
	// "bucketName/objectPath" by VerifyRenderURL.
	URL string `json:"url"`

	// Transformations carries the rendering pipeline's parameters (resize
	// dimensions, format, quality, ...); opaque to the signer itself.
	Transformations map[string]string `json:"transformations,omitempty"`
}

// UploadClaims is the payload of a signed resumable-upload URL:
// {url, owner, upsert, exp}.
type UploadClaims struct {
	jwt.RegisteredClaims

	URL    string `json:"url"`
	Owner  string `json:"owner"`
	Upsert bool   `json:"upsert"`
}

// SignRenderURL issues a render token bound to url, expiring at exp.
func SignRenderURL(secret, url string, transformations map[string]string, exp time.Time) (string, error) {
	if exp.IsZero() {
		return "", errors.New("signer: exp is required")
	}
	claims := RenderClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(timeNow()),
		},
		URL:             url,
		Transformations: transformations,
	}
	return sign(secret, &claims)
}

// VerifyRenderURL parses and validates a render token, additionally checking
// that its bound url exactly equals expectedURL (§4.J's "signed URL
// exactness" invariant). Any failure — bad signature, expired, not-yet-valid,
// or a url mismatch — is reported as apierror.KindInvalidSignature.
func VerifyRenderURL(secret, tokenString, expectedURL string) (*RenderClaims, error) {
	claims := &RenderClaims{}
	if err := parse(secret, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.URL != expectedURL {
		return nil, apierror.New(apierror.KindInvalidSignature, "signed url does not match the requested path")
	}
	return claims, nil
}

// SignUploadURL issues a resumable-upload token bound to url, expiring at exp.
func SignUploadURL(secret, url, owner string, upsert bool, exp time.Time) (string, error) {
	if exp.IsZero() {
		return "", errors.New("signer: exp is required")
	}
	claims := UploadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(timeNow()),
		},
		URL:    url,
		Owner:  owner,
		Upsert: upsert,
	}
	return sign(secret, &claims)
}

// VerifyUploadURL parses and validates an upload token, checking the same
// url-exactness invariant as VerifyRenderURL. Called on every request in the
// `/sign` prefix for the lifetime of the resumable upload.
func VerifyUploadURL(secret, tokenString, expectedURL string) (*UploadClaims, error) {
	claims := &UploadClaims{}
	if err := parse(secret, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.URL != expectedURL {
		return nil, apierror.New(apierror.KindInvalidSignature, "signed url does not match the requested path")
	}
	return claims, nil
}

func sign(secret string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signer: sign token: %w", err)
	}
	return signed, nil
}

// parse verifies signature, algorithm, exp (required) and nbf (honored if
// present, both enforced automatically by jwt.ParseWithClaims), mapping any
// failure to InvalidSignature per §4.J.
func parse(secret, tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apierror.New(apierror.KindInvalidSignature, "jwt expired")
		}
		return apierror.New(apierror.KindInvalidSignature, "invalid signed url token")
	}
	return nil
}

// timeNow is a var so tests can freeze IssuedAt without depending on wall-clock ordering.
var timeNow = time.Now
