package queryengine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  Category
		wantTransient bool
	}{
		{
			name:         "syntax error",
			err:          errors.New(`syntax error at or near "FORM"`),
			wantCategory: CategorySQLSyntax,
		},
		{
			name:         "missing column",
			err:          errors.New(`column "likes" does not exist`),
			wantCategory: CategorySQLSyntax,
		},
		{
			name:         "permission denied",
			err:          errors.New("permission denied for table posts"),
			wantCategory: CategoryPermission,
		},
		{
			name:          "deadline exceeded",
			err:           context.DeadlineExceeded,
			wantCategory:  CategoryTimeout,
			wantTransient: true,
		},
		{
			name:          "statement timeout",
			err:           errors.New("pq: canceling statement due to statement timeout"),
			wantCategory:  CategoryTimeout,
			wantTransient: true,
		},
		{
			name:          "throttled",
			err:           errors.New("request throttled, retry later"),
			wantCategory:  CategoryTransient,
			wantTransient: true,
		},
		{
			name:          "rate limited",
			err:           errors.New("rate limit exceeded"),
			wantCategory:  CategoryTransient,
			wantTransient: true,
		},
		{
			name:          "connection reset",
			err:           errors.New("read tcp: connection reset by peer"),
			wantCategory:  CategoryTransient,
			wantTransient: true,
		},
		{
			name:         "anything else",
			err:          errors.New("disk exploded"),
			wantCategory: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantTransient, got.IsTransient())
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	original := &Error{Category: CategoryDataNotFound, Message: "no rows"}
	assert.Same(t, original, Classify(original))

	wrapped := fmt.Errorf("engine: %w", original)
	assert.Same(t, original, Classify(wrapped))

	assert.Nil(t, Classify(nil))
}

func TestSuggestionCoversEveryCategory(t *testing.T) {
	categories := []Category{
		CategoryDataNotFound, CategorySQLSyntax, CategoryTimeout,
		CategoryPermission, CategoryTransient, CategoryUnknown,
	}
	for _, c := range categories {
		e := &Error{Category: c, Message: "m"}
		assert.NotEmpty(t, e.Suggestion(), "category %s", c)
	}
}

func TestErrorFormatting(t *testing.T) {
	bare := &Error{Category: CategoryTimeout, Message: "query timed out"}
	assert.Equal(t, "timeout: query timed out", bare.Error())

	cause := errors.New("i/o timeout")
	withCause := &Error{Category: CategoryTimeout, Message: "query timed out", Cause: cause}
	assert.Contains(t, withCause.Error(), "i/o timeout")
	assert.ErrorIs(t, withCause, cause)
}
