package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

func TestCNValidator_Success(t *testing.T) {
	data, errKind, detail, ok := CNValidator{}.Validate([]byte(`{"error_code":0,"error_description":"","data":{"item":[1,2,3]}}`))
	assert.True(t, ok)
	assert.Empty(t, errKind)
	assert.Empty(t, detail)
	assert.JSONEq(t, `{"item":[1,2,3]}`, string(data))
}

func TestCNValidator_ErrorCode(t *testing.T) {
	_, errKind, detail, ok := CNValidator{}.Validate([]byte(`{"error_code":1001,"error_description":"rate limited"}`))
	assert.False(t, ok)
	assert.Equal(t, domain.ErrProviderError, errKind)
	assert.Contains(t, detail, "rate limited")
}

func TestCNValidator_MalformedBody(t *testing.T) {
	_, errKind, _, ok := CNValidator{}.Validate([]byte(`not json`))
	assert.False(t, ok)
	assert.Equal(t, domain.ErrProviderError, errKind)
}

func TestUSHKValidator_SuccessStringCode(t *testing.T) {
	data, _, _, ok := USHKValidator{}.Validate([]byte(`{"code":"0","message":"","data":{"list":[1]}}`))
	assert.True(t, ok)
	assert.JSONEq(t, `{"list":[1]}`, string(data))
}

func TestUSHKValidator_SuccessNumericCode(t *testing.T) {
	data, _, _, ok := USHKValidator{}.Validate([]byte(`{"code":0,"message":"","data":{"list":[1]}}`))
	assert.True(t, ok)
	assert.JSONEq(t, `{"list":[1]}`, string(data))
}

func TestUSHKValidator_ErrorCode(t *testing.T) {
	_, errKind, detail, ok := USHKValidator{}.Validate([]byte(`{"code":"403","message":"forbidden"}`))
	assert.False(t, ok)
	assert.Equal(t, domain.ErrProviderError, errKind)
	assert.Contains(t, detail, "forbidden")
}

func TestValidatorFor(t *testing.T) {
	assert.IsType(t, CNValidator{}, ValidatorFor(domain.MarketCN))
	assert.IsType(t, USHKValidator{}, ValidatorFor(domain.MarketUS))
	assert.IsType(t, USHKValidator{}, ValidatorFor(domain.MarketHK))
}
