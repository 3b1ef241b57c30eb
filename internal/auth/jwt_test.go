package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

const secret = "test-secret"

func TestIssueAndParse(t *testing.T) {
	want := domain.Customer{ID: 7, Email: "a@example.com", Role: domain.RoleAdmin}
	token, err := Issue(secret, want, time.Hour)
	require.NoError(t, err)

	got, err := NewVerifier(secret).ParseBearer("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParse_Rejects(t *testing.T) {
	v := NewVerifier(secret)
	good, _ := Issue(secret, domain.Customer{ID: 1, Role: domain.RoleCustomer}, time.Hour)
	expired, _ := Issue(secret, domain.Customer{ID: 1}, -time.Minute)
	wrongKey, _ := Issue("other", domain.Customer{ID: 1}, time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "exp": time.Now().Add(time.Hour).Unix()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "abc",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"empty", "", ErrMissingToken},
		{"no scheme", good, ErrMissingToken},
		{"expired", "Bearer " + expired, ErrInvalidToken},
		{"wrong key", "Bearer " + wrongKey, ErrInvalidToken},
		{"alg none", "Bearer " + unsigned, ErrInvalidToken},
		{"bad subject", "Bearer " + badSubject, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ParseBearer(tt.header)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_UnknownRoleIsCustomer(t *testing.T) {
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "3",
		"role": "ROOT",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))

	got, err := NewVerifier(secret).Parse(token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, got.Role)
}
