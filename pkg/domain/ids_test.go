package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pawbase/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseUserID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseApplicationID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseUserID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(valid), id)
	})
}

func TestNilUserIDModelsNoOwner(t *testing.T) {
	var unowned UserID
	assert.True(t, unowned.IsNil())
	assert.False(t, UserID(uuid.New()).IsNil())
}

func TestParsePetCode(t *testing.T) {
	t.Run("accepts canonical format", func(t *testing.T) {
		code, err := ParsePetCode("ABC12345")
		require.NoError(t, err)
		assert.Equal(t, PetCode("ABC12345"), code)
	})

	t.Run("rejects malformed codes", func(t *testing.T) {
		for _, raw := range []string{"", "abc12345", "AB123456", "ABCD1234", "ABC1234", "ABC123456"} {
			_, err := ParsePetCode(raw)
			require.Error(t, err, "code %q", raw)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "code %q", raw)
		}
	})
}
