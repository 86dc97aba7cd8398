package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/aster/pkg/phone"
)

func TestNormalize_Brazil(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   string
	}{
		{"nine digit mobile collapses", "5511999990000", "551199990000"},
		{"eight digit mobile unchanged", "551199990000", "551199990000"},
		{"plus prefix stripped", "+5511999990000", "551199990000"},
		{"landline length unchanged", "551133334444", "551133334444"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, phone.Normalize(tt.number))
		})
	}
}

func TestNormalize_OtherLocalesPassThrough(t *testing.T) {
	assert.Equal(t, "14155550123", phone.Normalize("+1 4155550123"))
	assert.Equal(t, "4915112345678", phone.Normalize("4915112345678"))
}

func TestMatches(t *testing.T) {
	assert.True(t, phone.Matches("+5511999990000", "551199990000"))
	assert.True(t, phone.Matches("+14155550123", "14155550123"))
	assert.False(t, phone.Matches("+5511999990000", "551199990001"))
}

func TestRegister_CustomLocale(t *testing.T) {
	phone.Register("99", phone.NormalizerFunc(func(n string) string {
		return "custom"
	}))
	assert.Equal(t, "custom", phone.Normalize("991234"))
}
