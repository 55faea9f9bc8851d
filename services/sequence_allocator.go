package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"permit-workflow-api/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PermitNumber is an allocated, not yet committed, permit number.
type PermitNumber struct {
	Sequence int64
	Year     int
	Value    string
}

// SequenceAllocator reserves the next permit sequence inside the caller's transaction.
//
// The sequence is global: it is MAX(permit_sequence)+1 over every issued permit and does not
// restart at a year boundary. The year in the formatted number is the allocation year only.
type SequenceAllocator struct {
	orgCode string
	suffix  string
	now     func() time.Time
}

func NewSequenceAllocator(orgCode, suffix string) *SequenceAllocator {
	return &SequenceAllocator{
		orgCode: strings.TrimSpace(orgCode),
		suffix:  strings.TrimSpace(suffix),
		now:     time.Now,
	}
}

// Next locks the highest issued sequence row (SELECT ... FOR UPDATE) and returns max+1. The lock
// is held until tx commits or rolls back, so a concurrent allocator blocks behind it.
func (a *SequenceAllocator) Next(tx *gorm.DB) (PermitNumber, error) {
	if tx == nil {
		return PermitNumber{}, fmt.Errorf("sequence allocation requires an open transaction")
	}

	var top []int64
	if err := tx.Model(&models.Submission{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("permit_sequence IS NOT NULL").
		Order("permit_sequence DESC").
		Limit(1).
		Pluck("permit_sequence", &top).Error; err != nil {
		return PermitNumber{}, fmt.Errorf("failed to read current permit sequence: %w", err)
	}

	next := int64(1)
	if len(top) > 0 {
		next = top[0] + 1
	}

	year := a.now().Year()
	return PermitNumber{
		Sequence: next,
		Year:     year,
		Value:    a.Format(next, year),
	}, nil
}

// Format renders <sequence>/<org-code>/<year>-<suffix>.
func (a *SequenceAllocator) Format(sequence int64, year int) string {
	out := fmt.Sprintf("%d/%s/%d", sequence, a.orgCode, year)
	if a.suffix != "" {
		out += "-" + a.suffix
	}
	return out
}

// ParsePermitSequence extracts the sequence component from a formatted permit number.
func ParsePermitSequence(permitNumber string) (int64, error) {
	head, _, ok := strings.Cut(strings.TrimSpace(permitNumber), "/")
	if !ok {
		return 0, fmt.Errorf("malformed permit number %q", permitNumber)
	}
	seq, err := strconv.ParseInt(head, 10, 64)
	if err != nil || seq < 1 {
		return 0, fmt.Errorf("malformed permit sequence in %q", permitNumber)
	}
	return seq, nil
}
