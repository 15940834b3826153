package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

func TestFromErrorMapsDomainCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonLicenseRejected, "ledger.RecordEvidence", "license not allowed"), http.StatusUnprocessableEntity, "LICENSE_REJECTED"},
		{domainagg.NewError(domainagg.CodeNotFound, "explanations.GetExplanation", "no explanation", nil), http.StatusNotFound, ""},
		{domainagg.NewReasonError(domainagg.CodeConflict, domainagg.ReasonNotCurrent, "ledger.Supersede", "stale"), http.StatusConflict, "NOT_CURRENT"},
		{domainagg.NewError(domainagg.CodeInvariantViolation, "op", "bad row", nil), http.StatusConflict, ""},
		{domainagg.NewError(domainagg.CodePreconditionFailed, "op", "revision", nil), http.StatusPreconditionFailed, ""},
		{domainagg.Wrap(domainagg.CodeRetryable, "op", errors.New("serialization failure")), http.StatusServiceUnavailable, ""},
		{fmt.Errorf("wrapped: %w", domainagg.NewError(domainagg.CodeNotFound, "op", "gone", nil)), http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		if got.Status != tc.status || got.Reason != tc.reason {
			t.Fatalf("%v: want=%d/%q got=%d/%q", tc.err, tc.status, tc.reason, got.Status, got.Reason)
		}
	}
}

func TestFromErrorHidesInternalDetail(t *testing.T) {
	got := FromError(domainagg.Wrap(domainagg.CodeInternal, "repo.Insert", errors.New("pq: relation \"evidence\" does not exist")))
	if got.Status != http.StatusInternalServerError || got.Error() != "Internal Server Error" {
		t.Fatalf("internal error leaked: %d %q", got.Status, got.Error())
	}
	got = FromError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	if got.Status != http.StatusInternalServerError || got.Error() != "internal error" {
		t.Fatalf("plain error leaked: %d %q", got.Status, got.Error())
	}
	if got := FromError(context.DeadlineExceeded); got.Status != http.StatusGatewayTimeout {
		t.Fatalf("deadline: want=504 got=%d", got.Status)
	}
	api := New(http.StatusBadRequest, "invalid_as_of", errors.New("bad date"))
	if got := FromError(api); got != api {
		t.Fatalf("api errors should pass through")
	}
	if FromError(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}
