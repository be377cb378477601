package solana

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"system program", "11111111111111111111111111111111", true},
		{"token program", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", true},
		{"wrapped sol", "So11111111111111111111111111111111111111112", true},
		{"too short", "abc", false},
		{"invalid alphabet", "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", false},
		{"too long", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DATokenkeg", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.input)
			if tt.valid {
				assert.NoError(t, err)
				assert.True(t, IsAddress(tt.input))
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAddress))
			assert.False(t, IsAddress(tt.input))
		})
	}
}

func TestProgramRegistry(t *testing.T) {
	p, ok := LookupProgram("tor1xzb2Zyy1cUxXmyJfR8aNXuWnwHG8AwgaG7UGD4K")
	require.True(t, ok)
	assert.Equal(t, 90.0, p.RiskScore)

	_, ok = LookupProgram("11111111111111111111111111111111")
	assert.False(t, ok)

	all := RiskyPrograms()
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
	for _, p := range all {
		assert.True(t, IsAddress(p.ID), p.Name)
	}
}
