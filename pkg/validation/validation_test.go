package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "authcore/pkg/domain-errors"
)

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Language string `validate:"omitempty,oneof=en es"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		form    loginForm
		wantErr string
	}{
		{
			name: "valid",
			form: loginForm{Email: "user@example.com", Password: "pw", Language: "es"},
		},
		{
			name:    "missing email",
			form:    loginForm{Password: "pw"},
			wantErr: "email is required",
		},
		{
			name:    "malformed email",
			form:    loginForm{Email: "not-an-email", Password: "pw"},
			wantErr: "email must be a valid email",
		},
		{
			name:    "unsupported language",
			form:    loginForm{Email: "user@example.com", Password: "pw", Language: "fr"},
			wantErr: "language must be one of [en es]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.form)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
