package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	viewerrors "github.com/devrev/tableview/internal/errors"
)

func TestValidateTableName(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name    string
		table   string
		wantErr bool
	}{
		{"simple", "trips", false},
		{"with separators", "trips_v2-eu.main", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("t", MaxTableNameSize+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTableName(tt.table)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidArgument))
		})
	}
}

func TestValidatePartition(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name      string
		partition string
		wantErr   bool
	}{
		{"root partition", "", false},
		{"single level", "2024", false},
		{"hive style", "region=eu/day=01", false},
		{"absolute", "/region=eu", true},
		{"trailing slash", "region=eu/", true},
		{"empty segment", "a//b", true},
		{"parent segment", "a/../b", true},
		{"metadata folder", ".hoodie", true},
		{"control character", "a\x00b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePartition(tt.partition)
			if tt.wantErr {
				assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidArgument))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateInstantTime(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateInstantTime("001"))
	assert.NoError(t, v.ValidateInstantTime("20240101120000123"))

	err := v.ValidateInstantTime("12a")
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidArgument))
	var ve *viewerrors.ViewError
	if assert.ErrorAs(t, err, &ve) {
		assert.Equal(t, "instant_time", ve.Details["field"])
	}
	assert.Error(t, v.ValidateInstantTime(""))
	assert.Error(t, v.ValidateInstantTime(strings.Repeat("1", MaxInstantTimeSize+1)))
}

func TestValidateSliceQuery(t *testing.T) {
	v := NewValidatorWithLimits(8, 16)
	assert.NoError(t, v.ValidateSliceQuery("trips", "p1", ""))
	assert.NoError(t, v.ValidateSliceQuery("trips", "p1", "005"))
	assert.Error(t, v.ValidateSliceQuery("trips-long-name", "p1", ""))
	assert.Error(t, v.ValidateSliceQuery("trips", strings.Repeat("p", 17), ""))
	assert.Error(t, v.ValidateSliceQuery("trips", "p1", "x"))
}

func TestSanitizePartition(t *testing.T) {
	assert.Equal(t, "region=eu", SanitizePartition(" /region=eu/ "))
	assert.Equal(t, "ab", SanitizePartition("a\x00b"))
}
