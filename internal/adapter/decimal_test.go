package adapter

import (
	"net/http"
	"testing"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFloatToOptionalDecimal_ZeroMeansMissing(t *testing.T) {
	assert.Nil(t, floatToOptionalDecimal(0))
	d := floatToOptionalDecimal(1.5)
	want := decimal.NewFromFloat(1.5)
	assert.True(t, d.Equal(want))
}

func TestFloatSliceToOptionalDecimal_EmptySliceIsNil(t *testing.T) {
	assert.Nil(t, floatSliceToOptionalDecimal(nil))
	assert.Nil(t, floatSliceToOptionalDecimal([]float64{}))
}

func TestFloatSliceToOptionalDecimal_UsesPriceElement(t *testing.T) {
	d := floatSliceToOptionalDecimal([]float64{100.25, 3})
	want := decimal.NewFromFloat(100.25)
	assert.True(t, d.Equal(want))
}

func TestParseUnixMillisOrZero_MalformedReturnsZero(t *testing.T) {
	assert.Equal(t, int64(0), parseUnixMillisOrZero(""))
	assert.Equal(t, int64(0), parseUnixMillisOrZero("not-a-number"))
	assert.Equal(t, int64(1700000000000), parseUnixMillisOrZero("1700000000000"))
}

func TestParseDecimalOrZero_MalformedReturnsZero(t *testing.T) {
	assert.True(t, parseDecimalOrZero("").IsZero())
	assert.True(t, parseDecimalOrZero("not-a-decimal").IsZero())
	d := parseDecimalOrZero("12.34")
	assert.True(t, d.Equal(decimal.NewFromFloat(12.34)))
}

func TestParseOptionalDecimal_ZeroAndEmptyAreNil(t *testing.T) {
	assert.Nil(t, parseOptionalDecimal(""))
	assert.Nil(t, parseOptionalDecimal("0"))
	assert.Nil(t, parseOptionalDecimal("garbage"))

	d := parseOptionalDecimal("5.5")
	want := decimal.NewFromFloat(5.5)
	assert.True(t, d.Equal(want))
}

func TestClassifyStatus_MapsKnownCodes(t *testing.T) {
	_, ok := classifyStatus(http.StatusOK)
	assert.True(t, ok)

	kind, ok := classifyStatus(http.StatusTooManyRequests)
	assert.False(t, ok)
	assert.Equal(t, domain.ErrKindRateLimit, kind)

	kind, ok = classifyStatus(http.StatusUnauthorized)
	assert.False(t, ok)
	assert.Equal(t, domain.ErrKindAuth, kind)

	kind, ok = classifyStatus(http.StatusNotFound)
	assert.False(t, ok)
	assert.Equal(t, domain.ErrKindSymbolUnknown, kind)

	kind, ok = classifyStatus(http.StatusInternalServerError)
	assert.False(t, ok)
	assert.Equal(t, domain.ErrKindVendorTemporary, kind)

	kind, ok = classifyStatus(http.StatusTeapot)
	assert.False(t, ok)
	assert.Equal(t, domain.ErrKindVendorPermanent, kind)
}
