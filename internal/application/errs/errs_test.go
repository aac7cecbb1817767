package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/stretchr/testify/require"
)

func TestWrappedErrorsStayDetectable(t *testing.T) {
	err := fmt.Errorf("approve: %w", Conflict("entry is %s", consts.StatusApproved))
	var conflict ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "approve: conflict: entry is approved", err.Error())

	stageErr := StageExecutionError{
		Stage:    consts.StageTestSite,
		Kind:     consts.ErrorKindTimeout,
		Attempts: 3,
		Err:      context.DeadlineExceeded,
	}
	require.True(t, errors.Is(stageErr, context.DeadlineExceeded))
	require.Contains(t, stageErr.Error(), "stage test_site failed (timeout) after 3 attempt(s)")
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(fmt.Errorf("upload: %w", RetryableError{Err: errors.New("503")})))
	require.False(t, IsRetryable(errors.New("boom")))
}

func TestValidationErrorMessage(t *testing.T) {
	require.Equal(t, "invalid adminEmail: must be a valid email address",
		Invalid("adminEmail", "must be a valid email address").Error())
}
