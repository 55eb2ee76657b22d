package format

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ptr(v float64) *float64 { return &v }

func TestNormalizeID(t *testing.T) {
	oid := primitive.NewObjectID()

	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"plain string", "abc", "abc"},
		{"oid wrapper", map[string]any{"$oid": "abc"}, "abc"},
		{"integral number", 123, "123"},
		{"float number", float64(123), "123"},
		{"json number", json.Number("123"), "123"},
		{"raw oid wrapper", json.RawMessage(`{"$oid":"abc"}`), "abc"},
		{"raw string", json.RawMessage(`"abc"`), "abc"},
		{"raw number", json.RawMessage(`123`), "123"},
		{"object id", oid, oid.Hex()},
		{"nil", nil, ""},
		{"raw null", json.RawMessage(`null`), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeID(tt.raw))
		})
	}
}

func TestNormalizeIDStringAndWrapperAgree(t *testing.T) {
	assert.Equal(t, NormalizeID("64f0c2"), NormalizeID(map[string]any{"$oid": "64f0c2"}))
}

func TestCurrency(t *testing.T) {
	assert.Equal(t, "-", Currency(nil))
	assert.Equal(t, "Rp\u00a01.234.567", Currency(ptr(1234567)))
	assert.Equal(t, "Rp\u00a01.234.568", Currency(ptr(1234567.6)))
	assert.Equal(t, "-Rp\u00a05.000", Currency(ptr(-5000)))
	assert.Equal(t, "Rp\u00a00", Currency(ptr(0)))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "-", Number(nil))
	assert.Equal(t, "1.000.000", Number(ptr(1e6)))
	assert.Equal(t, "-5.000", Number(ptr(-5000)))
}

func TestNumberRejectsNonFinite(t *testing.T) {
	assert.Equal(t, "-", Number(ptr(math.NaN())))
	assert.Equal(t, "-", Number(ptr(math.Inf(1))))
	assert.Equal(t, "-", Number(ptr(math.Inf(-1))))

	huge := Number(ptr(1e20))
	assert.True(t, strings.HasPrefix(huge, "100."), huge)
	assert.Equal(t, strings.TrimPrefix(Currency(ptr(1e20)), "Rp\u00a0"), huge)
}
