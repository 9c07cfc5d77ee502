package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "tmp_abc@drop.example", NormalizeAddress("  <TMP_abc@Drop.Example> "))
	assert.Equal(t, "", NormalizeAddress("<>"))
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr error
	}{
		{"合法的临时地址", "tmp_k3j9x0a8b7c6d5e4f3g2h1i0@drop.example", nil},
		{"带加号的地址", "user+tag@example.com", nil},
		{"缺少@", "user.example.com", ErrInvalidAddress},
		{"缺少本地部分", "@example.com", ErrInvalidAddress},
		{"缺少域名", "user@", ErrInvalidAddress},
		{"非法域名", "user@-bad-.com", ErrInvalidAddress},
		{"本地部分过长", strings.Repeat("a", 65) + "@example.com", ErrAddressTooLong},
		{"地址过长", "a@" + strings.Repeat("b", 250) + ".com", ErrAddressTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestInbox_Remaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	inbox := &Inbox{CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}

	assert.Equal(t, time.Hour, inbox.Remaining(now))
	assert.False(t, inbox.IsExpired(now))

	assert.Equal(t, time.Duration(0), inbox.Remaining(now.Add(2*time.Hour)))
	assert.True(t, inbox.IsExpired(now.Add(time.Hour)))
}
