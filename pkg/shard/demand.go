package shard

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/golemcloud/golemrt/pkg/durablehost"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// DemandTokenTTL bounds how long an issued demand token authorizes
// calls to its target worker before the executor rejects it and a
// fresh one must be requested.
const DemandTokenTTL = 5 * time.Minute

// demandClaims is the signed payload backing a DemandToken: it proves
// to the target executor that the caller was authorized, by this shard
// manager, to reach worker.
type demandClaims struct {
	ComponentID string `json:"component_id"`
	WorkerName  string `json:"worker_name"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies demand tokens with an HMAC key held
// by the shard manager.
type tokenIssuer struct {
	secretKey []byte
	issuer    string
}

func newTokenIssuer(secretKey []byte, issuer string) *tokenIssuer {
	return &tokenIssuer{secretKey: secretKey, issuer: issuer}
}

func (i *tokenIssuer) issue(target oplog.WorkerId) (durablehost.DemandToken, error) {
	now := time.Now()
	claims := &demandClaims{
		ComponentID: target.ComponentId.String(),
		WorkerName:  target.WorkerName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   target.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(DemandTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secretKey)
	if err != nil {
		return "", fmt.Errorf("shard: sign demand token: %w", err)
	}
	return durablehost.DemandToken(signed), nil
}

// verify checks that token authorizes a call to target and has not
// expired. Executors call this; the shard client here only issues
// tokens, but verify is kept alongside issuance since both share the
// same signing key and claims shape.
func (i *tokenIssuer) verify(token durablehost.DemandToken, target oplog.WorkerId) error {
	parsed, err := jwt.ParseWithClaims(string(token), &demandClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secretKey, nil
	})
	if err != nil {
		return fmt.Errorf("shard: invalid demand token: %w", err)
	}
	claims, ok := parsed.Claims.(*demandClaims)
	if !ok || !parsed.Valid {
		return fmt.Errorf("shard: invalid demand token claims")
	}
	if claims.ComponentID != target.ComponentId.String() || claims.WorkerName != target.WorkerName {
		return fmt.Errorf("shard: demand token is not authorized for worker %s", target.String())
	}
	return nil
}
