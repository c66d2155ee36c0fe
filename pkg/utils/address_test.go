package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	valid := []string{
		"So11111111111111111111111111111111111111112",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"11111111111111111111111111111111",
	}
	for _, addr := range valid {
		assert.NoError(t, ValidateAddress(addr), addr)
	}

	invalid := []string{
		"",
		" So11111111111111111111111111111111111111112",
		"0xdeadbeef",
		"abc",
		"So11111111111111111111111111111111111111112So111",
	}
	for _, addr := range invalid {
		err := ValidateAddress(addr)
		assert.Error(t, err, addr)
		assert.True(t, IsErrorCode(err, ErrCodeInvalidAddress), addr)
	}
}

func TestGenerateIDUnique(t *testing.T) {
	assert.NotEqual(t, GenerateID(), GenerateID())
}
