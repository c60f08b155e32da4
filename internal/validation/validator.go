package validation

import (
	"fmt"
	"strings"
	"unicode"

	viewerrors "github.com/devrev/tableview/internal/errors"
)

const (
	// Size limits
	MaxTableNameSize   = 128
	MaxPartitionSize   = 1024
	MaxInstantTimeSize = 32
	MinInstantTimeSize = 1
)

// Validator validates query API and CLI arguments
type Validator struct {
	maxTableNameSize int
	maxPartitionSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxTableNameSize: MaxTableNameSize,
		maxPartitionSize: MaxPartitionSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxTableNameSize, maxPartitionSize int) *Validator {
	return &Validator{
		maxTableNameSize: maxTableNameSize,
		maxPartitionSize: maxPartitionSize,
	}
}

// ValidateSliceQuery validates the arguments of a partition slice query.
// instantTime is optional.
func (v *Validator) ValidateSliceQuery(table, partition, instantTime string) error {
	if err := v.ValidateTableName(table); err != nil {
		return err
	}
	if err := v.ValidatePartition(partition); err != nil {
		return err
	}
	if instantTime == "" {
		return nil
	}
	return v.ValidateInstantTime(instantTime)
}

// ValidateTableName validates a registered table name
func (v *Validator) ValidateTableName(name string) error {
	if name == "" {
		return invalid("table", name, "table name cannot be empty")
	}
	if len(name) > v.maxTableNameSize {
		return invalid("table", name, fmt.Sprintf("table name exceeds maximum size of %d bytes", v.maxTableNameSize))
	}
	for _, r := range name {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.') {
			return invalid("table", name, fmt.Sprintf("table name cannot contain %q", r))
		}
	}
	return nil
}

// ValidatePartition validates a table-relative partition path. The empty
// string is the root partition of a non-partitioned table.
func (v *Validator) ValidatePartition(partition string) error {
	if len(partition) > v.maxPartitionSize {
		return invalid("partition", partition, fmt.Sprintf("partition path exceeds maximum size of %d bytes", v.maxPartitionSize))
	}
	if strings.HasPrefix(partition, "/") || strings.HasSuffix(partition, "/") {
		return invalid("partition", partition, "partition path must be relative without a trailing slash")
	}
	for _, r := range partition {
		if unicode.IsControl(r) {
			return invalid("partition", partition, "partition path cannot contain control characters")
		}
	}
	if partition == "" {
		return nil
	}
	for _, segment := range strings.Split(partition, "/") {
		switch segment {
		case "":
			return invalid("partition", partition, "partition path cannot contain empty segments")
		case ".", "..":
			return invalid("partition", partition, "partition path cannot contain relative segments")
		case ".hoodie":
			return invalid("partition", partition, "partition path cannot address the metadata folder")
		}
	}
	return nil
}

// ValidateInstantTime validates an instant timestamp. Instant times are
// digit strings compared lexicographically.
func (v *Validator) ValidateInstantTime(ts string) error {
	if len(ts) < MinInstantTimeSize || len(ts) > MaxInstantTimeSize {
		return invalid("instant_time", ts, fmt.Sprintf("instant time must be between %d and %d characters", MinInstantTimeSize, MaxInstantTimeSize))
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return invalid("instant_time", ts, "instant time must contain only digits")
		}
	}
	return nil
}

func invalid(field, value, reason string) error {
	return viewerrors.InvalidArgument(reason, nil).
		WithDetail("field", field).
		WithDetail("value", value)
}

// SanitizePartition trims whitespace and surrounding slashes from user input
func SanitizePartition(partition string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, partition)
	return strings.Trim(strings.TrimSpace(sanitized), "/")
}
