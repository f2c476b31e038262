package query

import (
	"context"
	"errors"
	"regexp"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

// categoryRule maps an engine error-text pattern to a category and the
// suggestions surfaced with it. Rules are evaluated in order; the first
// match wins.
type categoryRule struct {
	pattern     *regexp.Regexp
	category    domain.ErrorCategory
	suggestions []string
}

var categoryRules = []categoryRule{
	{
		pattern:  regexp.MustCompile(`(?i)table with name .* does not exist|table .* does not exist|catalog error.*table`),
		category: domain.CategoryTableNotFound,
		suggestions: []string{
			"Check the table name for typos",
			"List available tables with SHOW TABLES",
			"Register the file as a view before querying it",
		},
	},
	{
		pattern:  regexp.MustCompile(`(?i)column .* (does not exist|not found)|binder error.*column|referenced column`),
		category: domain.CategoryColumnNotFound,
		suggestions: []string{
			"Check the column name for typos",
			"Inspect the schema with DESCRIBE <table>",
		},
	},
	{
		pattern:  regexp.MustCompile(`(?i)parser error|syntax error|unexpected token|expected .* but got`),
		category: domain.CategorySyntax,
		suggestions: []string{
			"Check the statement for missing keywords or unbalanced quotes",
			"Verify identifier quoting uses double quotes, string literals single quotes",
		},
	},
	{
		pattern:  regexp.MustCompile(`(?i)conversion error|could not convert|type mismatch|no function matches|cannot cast`),
		category: domain.CategoryTypeMismatch,
		suggestions: []string{
			"Add an explicit CAST to the expected type",
			"Check that compared columns have compatible types",
		},
	},
	{
		pattern:  regexp.MustCompile(`(?i)permission denied|read-only|access denied`),
		category: domain.CategoryPermissionDenied,
		suggestions: []string{
			"Check file permissions on the database and data files",
			"The database may be opened read-only",
		},
	},
}

// CategorizeError classifies an engine execution failure into an
// ExecutionError with remediation suggestions. Context errors pass
// through untouched so deadline handling stays visible to callers;
// unmatched errors fall back to the unknown category.
func CategorizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(msg) {
			return &domain.ExecutionError{
				Category:    rule.category,
				Message:     msg,
				Suggestions: rule.suggestions,
				Err:         err,
			}
		}
	}
	return &domain.ExecutionError{
		Category: domain.CategoryUnknown,
		Message:  msg,
		Err:      err,
	}
}
