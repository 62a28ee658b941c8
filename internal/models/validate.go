package models

import (
	"errors"
	"fmt"
)

// Validate checks enumeration membership and required strings on a report built
// in Go code. Reports decoded from model output are already checked against the
// JSON schema; this covers extractors that construct reports directly.
func (r *ReviewReport) Validate() error {
	if r == nil {
		return errors.New("review report is nil")
	}
	var errs []error
	if r.Metadata.JobTitle == "" {
		errs = append(errs, errors.New("metadata.job_title is required"))
	}
	for i, tc := range r.Tests {
		if !tc.Category.Valid() {
			errs = append(errs, fmt.Errorf("tests[%d].category %q is not a known category", i, tc.Category))
		}
		if !tc.Result.Valid() {
			errs = append(errs, fmt.Errorf("tests[%d].result %q must be PASS or FAIL", i, tc.Result))
		}
		if tc.LinkedIssue != nil && !tc.LinkedIssue.Severity.Valid() {
			errs = append(errs, fmt.Errorf("tests[%d].linked_issue.severity %q is not a known severity", i, tc.LinkedIssue.Severity))
		}
	}
	for i, ci := range r.CriticalIssues {
		if !ci.Status.Valid() {
			errs = append(errs, fmt.Errorf("critical_issues[%d].status %q is not a known status", i, ci.Status))
		}
		for j, ev := range ci.Evidence {
			switch ev.(type) {
			case string, float64, int, int64:
			default:
				errs = append(errs, fmt.Errorf("critical_issues[%d].evidence[%d] must be a string or number", i, j))
			}
		}
	}
	if !r.Recommendation.Status.Valid() {
		errs = append(errs, fmt.Errorf("recommendation.status %q is not a known status", r.Recommendation.Status))
	}
	return errors.Join(errs...)
}
