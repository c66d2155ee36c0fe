package utils

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the decoded size of an account address
const PublicKeyLength = 32

// GenerateID generates a random identifier
func GenerateID() string {
	return uuid.NewString()
}

// ValidateAddress checks that address is a base58 encoded 32-byte public key
func ValidateAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return NewAppError(ErrCodeInvalidAddress, "Address is required")
	}
	if trimmed != address {
		return NewAppError(ErrCodeInvalidAddress, "Address contains surrounding whitespace", address)
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return NewAppError(ErrCodeInvalidAddress, "Address is not valid base58", address)
	}
	if len(decoded) != PublicKeyLength {
		return NewAppError(ErrCodeInvalidAddress, "Address has wrong length", address)
	}
	return nil
}

// IsValidAddress reports whether address passes ValidateAddress
func IsValidAddress(address string) bool {
	return ValidateAddress(address) == nil
}
