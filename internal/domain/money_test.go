package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency("usd")
	assert.NoError(t, err)
	assert.Equal(t, Currency("USD"), c)

	_, err = ParseCurrency("US")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = ParseCurrency("1234")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestAmountPositive(t *testing.T) {
	assert.True(t, AmountPositive(1))
	assert.False(t, AmountPositive(0))
	assert.False(t, AmountPositive(-1))
}

func TestAddCheckedOverflow(t *testing.T) {
	_, ok := AddChecked(math.MaxInt64-1, 10)
	assert.False(t, ok)

	v, ok := AddChecked(100, 50)
	assert.True(t, ok)
	assert.Equal(t, int64(150), v)

	_, ok = AddChecked(10, -20)
	assert.True(t, ok)
}
