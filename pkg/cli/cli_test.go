package cli_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/cli"
)

func TestRunReportsFailure(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"recall", "consolidate",
		"--project", "ghost",
		"--data-dir", t.TempDir(),
	})
	gt.V(t, err).NotNil()
	gt.V(t, err.Code).Equal(1)
	gt.S(t, err.Message).Contains("no extraction records")
}

func TestRunQueryWithoutMemory(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"recall", "query", "anything",
		"--project", "ghost",
		"--data-dir", t.TempDir(),
	})
	gt.V(t, err).Nil()
}
