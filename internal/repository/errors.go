package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Constraint failures surfaced to services as sentinels.
var (
	ErrDuplicate  = errors.New("duplicate record")
	ErrOverlap    = errors.New("overlapping approved booking")
	ErrReferenced = errors.New("record is still referenced")
)

const (
	pqUniqueViolation     = pq.ErrorCode("23505")
	pqForeignKeyViolation = pq.ErrorCode("23503")
	pqExclusionViolation  = pq.ErrorCode("23P01")
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pqCode(err) == pqForeignKeyViolation
}

func isExclusionViolation(err error) bool {
	return pqCode(err) == pqExclusionViolation
}
