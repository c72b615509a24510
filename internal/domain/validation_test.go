package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"Valid address", "test@example.com", true},
		{"Valid with subdomain", "user@mail.example.com", true},
		{"Valid with plus tag", "user+tag@example.com", true},
		{"Valid with dots", "first.last@example.com", true},
		{"Invalid - double at", "bad@@format", false},
		{"Invalid - no at", "testexample.com", false},
		{"Invalid - no domain", "test@", false},
		{"Invalid - no local part", "@example.com", false},
		{"Invalid - empty", "", false},
		{"Invalid - spaces", "test @example.com", false},
		{"Invalid - domain without dot", "user@localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestValidateRecipients(t *testing.T) {
	t.Run("valid recipients", func(t *testing.T) {
		err := ValidateRecipients(
			[]string{"a@example.com"},
			[]string{"b@example.com"},
			nil,
		)
		assert.NoError(t, err)
	})

	t.Run("empty to list rejected", func(t *testing.T) {
		err := ValidateRecipients(nil, []string{"b@example.com"}, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("one bad address rejects the whole message", func(t *testing.T) {
		err := ValidateRecipients([]string{"a@example.com", "bad@@format"}, nil, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("bad cc address rejected", func(t *testing.T) {
		err := ValidateRecipients([]string{"a@example.com"}, []string{"bad@@format"}, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("too many recipients rejected", func(t *testing.T) {
		to := make([]string, MaxRecipients+1)
		for i := range to {
			to[i] = "user@example.com"
		}
		err := ValidateRecipients(to, nil, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ConfigurationErrorf("missing key"), ErrConfiguration)
	assert.ErrorIs(t, TransportErrorf("dial failed"), ErrTransport)
	assert.ErrorIs(t, RenderErrorf("bad template"), ErrRender)
	assert.ErrorIs(t, ParseErrorf("bad mime"), ErrParse)
	assert.ErrorIs(t, ValidationErrorf("bad address"), ErrValidation)

	// 错误信息保留上下文
	assert.Contains(t, ConfigurationErrorf("missing %s", "smtp_host").Error(), "smtp_host")
}
